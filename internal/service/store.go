package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/models"
)

// Transactor 原子执行单元：fn 返回错误时其中的全部写操作回滚
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LotRepository 停车场存储
type LotRepository interface {
	Create(ctx context.Context, lot *models.Lot) error
	GetByID(ctx context.Context, id int64, includeRetired bool) (*models.Lot, error)
	List(ctx context.Context, includeRetired bool) ([]*models.Lot, error)
	Retire(ctx context.Context, id int64) error
}

// SlotRepository 车位存储，状态只能通过 CompareAndSwapStatus 修改
type SlotRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Slot, error)
	ListByLot(ctx context.Context, lotID int64, status models.SlotStatus, includeRetired bool) ([]*models.Slot, error)
	CompareAndSwapStatus(ctx context.Context, id, expectedVersion int64, status models.SlotStatus) (*models.Slot, error)
	CountByStatus(ctx context.Context, lotID int64, status models.SlotStatus) (int, error)
	CountsByLot(ctx context.Context, lotID int64, includeRetired bool) (map[models.SlotStatus]int, error)
}

// VehicleRepository 车辆存储
type VehicleRepository interface {
	GetOrCreate(ctx context.Context, number string, vehicleType models.VehicleType) (*models.Vehicle, error)
	GetByNumber(ctx context.Context, number string, includeRetired bool) (*models.Vehicle, error)
}

// SessionRepository 会话存储
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id int64) (*models.Session, error)
	GetActiveByVehicle(ctx context.Context, vehicleID int64) (*models.Session, error)
	Complete(ctx context.Context, s *models.Session) error
	SumRevenue(ctx context.Context, lotID int64, since time.Time) (float64, error)
}

// ReservationRepository 预约存储
type ReservationRepository interface {
	Create(ctx context.Context, r *models.Reservation) error
	GetByID(ctx context.Context, id int64) (*models.Reservation, error)
	GetActiveByVehicle(ctx context.Context, vehicleID int64) (*models.Reservation, error)
	ListActive(ctx context.Context) ([]*models.Reservation, error)
	UpdateStatus(ctx context.Context, id, expectedVersion int64, status models.ReservationStatus) (*models.Reservation, error)
}

// Publisher 事实发布
type Publisher interface {
	Publish(ctx context.Context, fact models.Fact) error
}

// Stores 存储层依赖集合，PostgreSQL 与内存实现都可以装配进来
type Stores struct {
	Tx           Transactor
	Lots         LotRepository
	Slots        SlotRepository
	Vehicles     VehicleRepository
	Sessions     SessionRepository
	Reservations ReservationRepository
}

// publish 在事务提交后发布事实，失败只记录日志
func publish(ctx context.Context, pub Publisher, logger *zap.Logger, facts ...models.Fact) {
	if pub == nil {
		return
	}
	for _, f := range facts {
		if err := pub.Publish(ctx, f); err != nil {
			logger.Warn("Failed to publish fact",
				zap.String("type", string(f.Type())),
				zap.Int64("lot_id", f.Lot()),
				zap.Error(err))
		}
	}
}
