package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/metrics"
)

// Sweeper 定期过期超时预约
// time.Ticker 只缓冲一个 tick：某次清扫超过周期时下一次紧接着开始，不会补跑多次
type Sweeper struct {
	reservations *ReservationService
	interval     time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewSweeper 创建清扫任务
func NewSweeper(reservations *ReservationService, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		reservations: reservations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Run 阻塞运行直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Reservation sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce 执行一次清扫，返回本次过期的预约数
// 单个预约失败只记录日志，不影响其余预约
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	active, err := s.reservations.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	for _, res := range active {
		if !res.Overdue(now) {
			continue
		}
		if err := s.reservations.Expire(ctx, res); err != nil {
			if errors.Is(err, ErrReservationNotActive) {
				// 取消或到场先提交
				s.logger.Debug("Reservation resolved before expiry", zap.Int64("reservation_id", res.ID))
				continue
			}
			s.logger.Error("Failed to expire reservation",
				zap.Int64("reservation_id", res.ID),
				zap.Int64("slot_id", res.SlotID),
				zap.Error(err))
			continue
		}
		expired++
	}

	metrics.ReservationsExpiredTotal.Add(float64(expired))
	if expired > 0 {
		s.logger.Info("Reservation sweep finished", zap.Int("expired", expired), zap.Int("scanned", len(active)))
	}
	return expired, nil
}
