package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// LotService 停车场管理与统计
type LotService struct {
	stores    Stores
	slots     *SlotStore
	dashboard *Dashboard
	logger    *zap.Logger
	now       func() time.Time
}

// NewLotService 创建停车场服务
func NewLotService(stores Stores, slots *SlotStore, dashboard *Dashboard, logger *zap.Logger) *LotService {
	return &LotService{
		stores:    stores,
		slots:     slots,
		dashboard: dashboard,
		logger:    logger,
		now:       time.Now,
	}
}

// Create 创建停车场并生成全部车位
func (s *LotService) Create(ctx context.Context, name string, totalSlots int, basePricePerHour float64) (*models.Lot, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, badRequest("lot name is required")
	case totalSlots <= 0:
		return nil, badRequest("total slots must be positive, got %d", totalSlots)
	case basePricePerHour < 0:
		return nil, badRequest("base price must not be negative")
	}

	lot := &models.Lot{Name: name, TotalSlots: totalSlots, BasePricePerHour: basePricePerHour}
	err := tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		return s.stores.Lots.Create(ctx, lot)
	}))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrLotNameTaken, name)
		}
		return nil, fmt.Errorf("create lot: %w", err)
	}

	s.logger.Info("Lot created", zap.Int64("lot_id", lot.ID), zap.String("name", lot.Name), zap.Int("slots", totalSlots))
	if s.dashboard != nil {
		if _, err := s.dashboard.Initialize(ctx, lot.ID); err != nil {
			s.logger.Warn("Failed to initialize dashboard", zap.Int64("lot_id", lot.ID), zap.Error(err))
		}
	}
	return lot, nil
}

// Get 获取停车场
func (s *LotService) Get(ctx context.Context, id int64, includeRetired bool) (*models.Lot, error) {
	lot, err := s.stores.Lots.GetByID(ctx, id, includeRetired)
	if err != nil {
		return nil, notFound(err, "lot %d", id)
	}
	return lot, nil
}

// List 获取停车场列表
func (s *LotService) List(ctx context.Context, includeRetired bool) ([]*models.Lot, error) {
	return s.stores.Lots.List(ctx, includeRetired)
}

// ListSlots 列出停车场车位，status 为空表示全部
func (s *LotService) ListSlots(ctx context.Context, lotID int64, status models.SlotStatus) ([]*models.Slot, error) {
	if _, err := s.Get(ctx, lotID, false); err != nil {
		return nil, err
	}
	return s.stores.Slots.ListByLot(ctx, lotID, status, false)
}

// Retire 下线停车场，仍有占用或预约的车位时拒绝
// 先下线（递增全部车位版本号）再检查，并发中的 claim 要么先提交被检查到，要么 CAS 失败
func (s *LotService) Retire(ctx context.Context, id int64) error {
	err := tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Lots.Retire(ctx, id); err != nil {
			return notFound(err, "lot %d", id)
		}
		counts, err := s.stores.Slots.CountsByLot(ctx, id, true)
		if err != nil {
			return fmt.Errorf("count slots: %w", err)
		}
		if busy := counts[models.SlotOccupied] + counts[models.SlotReserved]; busy > 0 {
			return fmt.Errorf("%w: %d slots in use", ErrLotInUse, busy)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	s.logger.Info("Lot retired", zap.Int64("lot_id", id))
	if s.dashboard != nil {
		s.dashboard.Forget(id)
	}
	return nil
}

// Stats 停车场统计：实时占用 + 会话历史收入
func (s *LotService) Stats(ctx context.Context, lotID int64) (*models.LotStats, error) {
	lot, err := s.Get(ctx, lotID, true)
	if err != nil {
		return nil, err
	}

	occupied, err := s.slots.CountByStatus(ctx, lotID, models.SlotOccupied)
	if err != nil {
		return nil, fmt.Errorf("count occupied slots: %w", err)
	}

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.stores.Sessions.SumRevenue(ctx, lotID, midnight)
	if err != nil {
		return nil, fmt.Errorf("sum today revenue: %w", err)
	}
	total, err := s.stores.Sessions.SumRevenue(ctx, lotID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("sum total revenue: %w", err)
	}

	return &models.LotStats{
		LotID:               lot.ID,
		OccupiedSlots:       occupied,
		TotalSlots:          lot.TotalSlots,
		OccupancyPercentage: round2(occupancyPercent(occupied, lot.TotalSlots)),
		RevenueToday:        round2(today),
		TotalRevenue:        round2(total),
	}, nil
}
