package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/metrics"
	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// SlotStore 车位 claim/release 协议
// 所有状态变更都是 读版本 -> 条件写 -> 冲突重试，重试次数和间隔固定
type SlotStore struct {
	slots       SlotRepository
	logger      *zap.Logger
	maxAttempts int
	interval    time.Duration
}

// NewSlotStore 创建 SlotStore
func NewSlotStore(slots SlotRepository, logger *zap.Logger, maxAttempts int, interval time.Duration) *SlotStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SlotStore{
		slots:       slots,
		logger:      logger,
		maxAttempts: maxAttempts,
		interval:    interval,
	}
}

// ClaimFirstAvailable 按 id 升序把第一个空闲车位置为 target（OCCUPIED 或 RESERVED）
// 没有空闲车位返回 ErrLotFull（不重试）；候选车位全部被并发抢走时整体重试，
// 预算耗尽返回 ErrTryAgain
func (s *SlotStore) ClaimFirstAvailable(ctx context.Context, lotID int64, target models.SlotStatus) (*models.Slot, error) {
	slot, err := s.retry(ctx, func() (*models.Slot, error) {
		candidates, err := s.slots.ListByLot(ctx, lotID, models.SlotAvailable, false)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if len(candidates) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("%w: lot %d", ErrLotFull, lotID))
		}

		for _, c := range candidates {
			slot, err := s.slots.CompareAndSwapStatus(ctx, c.ID, c.Version, target)
			if err == nil {
				return slot, nil
			}
			if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrNotFound) {
				metrics.SlotCASConflictsTotal.Inc()
				continue
			}
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("%w: all %d candidates in lot %d taken", repository.ErrVersionConflict, len(candidates), lotID)
	})

	switch {
	case err == nil:
		metrics.SlotClaimsTotal.WithLabelValues(string(target), metrics.OutcomeClaimed).Inc()
	case errors.Is(err, ErrLotFull):
		metrics.SlotClaimsTotal.WithLabelValues(string(target), metrics.OutcomeLotFull).Inc()
	case errors.Is(err, ErrTryAgain):
		metrics.SlotClaimsTotal.WithLabelValues(string(target), metrics.OutcomeTryAgain).Inc()
	}
	return slot, err
}

// Transition 把车位从 from 严格迁移到 to，当前状态不是 from 时返回 Conflict
func (s *SlotStore) Transition(ctx context.Context, slotID int64, from, to models.SlotStatus) (*models.Slot, error) {
	return s.retry(ctx, func() (*models.Slot, error) {
		slot, err := s.get(ctx, slotID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if slot.Status != from {
			return nil, backoff.Permanent(fmt.Errorf("%w: slot %d is %s, expected %s", ErrConflict, slotID, slot.Status, from))
		}
		return s.cas(ctx, slot, to)
	})
}

// Release 把车位释放为 AVAILABLE，已经空闲时直接返回
func (s *SlotStore) Release(ctx context.Context, slotID int64) (*models.Slot, error) {
	return s.retry(ctx, func() (*models.Slot, error) {
		slot, err := s.get(ctx, slotID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if slot.Status == models.SlotAvailable {
			s.logger.Warn("Slot already available on release", zap.Int64("slot_id", slotID))
			return slot, nil
		}
		return s.cas(ctx, slot, models.SlotAvailable)
	})
}

// CountByStatus 实时统计，不走缓存
func (s *SlotStore) CountByStatus(ctx context.Context, lotID int64, status models.SlotStatus) (int, error) {
	return s.slots.CountByStatus(ctx, lotID, status)
}

// Counts 单次统计各状态数量
func (s *SlotStore) Counts(ctx context.Context, lotID int64) (map[models.SlotStatus]int, error) {
	return s.slots.CountsByLot(ctx, lotID, false)
}

func (s *SlotStore) get(ctx context.Context, slotID int64) (*models.Slot, error) {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, notFound(err, "slot %d", slotID)
	}
	if slot.Lifecycle != models.LifecycleActive {
		return nil, fmt.Errorf("%w: slot %d is retired", ErrNotFound, slotID)
	}
	return slot, nil
}

// cas 版本冲突可重试，其他错误立即返回
func (s *SlotStore) cas(ctx context.Context, slot *models.Slot, to models.SlotStatus) (*models.Slot, error) {
	updated, err := s.slots.CompareAndSwapStatus(ctx, slot.ID, slot.Version, to)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			metrics.SlotCASConflictsTotal.Inc()
			return nil, err
		}
		return nil, backoff.Permanent(notFound(err, "slot %d", slot.ID))
	}
	return updated, nil
}

func (s *SlotStore) retry(ctx context.Context, op backoff.Operation[*models.Slot]) (*models.Slot, error) {
	slot, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.interval)),
		backoff.WithMaxTries(uint(s.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("Retrying slot transition", zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	if err != nil && errors.Is(err, repository.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: %v", ErrTryAgain, err)
	}
	return slot, err
}
