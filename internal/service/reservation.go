package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
	"github.com/langchou/parkgazer/internal/state"
)

// ReservationService 预约生命周期
// ACTIVE 只能进入 COMPLETED / CANCELLED / EXPIRED 之一，
// 并发的取消、到场、过期通过预约版本号决出唯一胜者
type ReservationService struct {
	stores    Stores
	slots     *SlotStore
	sessions  *SessionService
	publisher Publisher
	logger    *zap.Logger
	hold      time.Duration
	now       func() time.Time
}

// NewReservationService 创建预约服务
func NewReservationService(stores Stores, slots *SlotStore, sessions *SessionService, publisher Publisher, logger *zap.Logger, hold time.Duration) *ReservationService {
	return &ReservationService{
		stores:    stores,
		slots:     slots,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
		hold:      hold,
		now:       time.Now,
	}
}

// Create 为车辆保留第一个空闲车位，保留期为 hold
func (s *ReservationService) Create(ctx context.Context, vehicleNumber string, vehicleType models.VehicleType, lotID int64) (*models.Reservation, error) {
	vehicleNumber, err := normalizeVehicle(vehicleNumber, vehicleType)
	if err != nil {
		return nil, err
	}

	var (
		lot *models.Lot
		res *models.Reservation
	)
	err = tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		lot, err = s.stores.Lots.GetByID(ctx, lotID, false)
		if err != nil {
			return notFound(err, "lot %d", lotID)
		}

		vehicle, err := s.stores.Vehicles.GetOrCreate(ctx, vehicleNumber, vehicleType)
		if err != nil {
			return fmt.Errorf("resolve vehicle: %w", err)
		}
		if err := ensureVehicleFree(ctx, s.stores, vehicle.ID); err != nil {
			return err
		}

		slot, err := s.slots.ClaimFirstAvailable(ctx, lot.ID, models.SlotReserved)
		if err != nil {
			return err
		}

		now := s.now()
		res = &models.Reservation{
			VehicleID:       vehicle.ID,
			VehicleNumber:   vehicle.Number,
			LotID:           lot.ID,
			SlotID:          slot.ID,
			ReservationTime: now,
			ExpirationTime:  now.Add(s.hold),
		}
		if err := s.stores.Reservations.Create(ctx, res); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrActiveReservation
			}
			return fmt.Errorf("create reservation: %w", err)
		}
		return nil
	}))
	if err != nil {
		s.logger.Info("Reservation rejected",
			zap.String("vehicle_number", vehicleNumber),
			zap.Int64("lot_id", lotID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", res.ID),
		zap.String("vehicle_number", vehicleNumber),
		zap.Int64("slot_id", res.SlotID),
		zap.Time("expires_at", res.ExpirationTime))

	publish(ctx, s.publisher, s.logger,
		models.SlotStatusChanged{LotID: lot.ID, SlotID: res.SlotID, NewStatus: models.SlotReserved},
		changedFact(res, lot),
	)
	return res, nil
}

// Get 获取预约
func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	res, err := s.stores.Reservations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "reservation %d", id)
	}
	return res, nil
}

// Cancel 取消预约并释放车位
func (s *ReservationService) Cancel(ctx context.Context, id int64) (*models.Reservation, error) {
	var (
		lot *models.Lot
		res *models.Reservation
	)
	err := tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if res, err = s.finish(ctx, current, state.EventCancel); err != nil {
			return err
		}
		if _, err := s.slots.Release(ctx, res.SlotID); err != nil {
			return err
		}
		lot, err = s.stores.Lots.GetByID(ctx, res.LotID, true)
		return notFound(err, "lot %d", res.LotID)
	}))
	if err != nil {
		s.logger.Info("Reservation cancel rejected", zap.Int64("reservation_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Reservation cancelled", zap.Int64("reservation_id", id), zap.Int64("slot_id", res.SlotID))
	publish(ctx, s.publisher, s.logger,
		models.SlotStatusChanged{LotID: res.LotID, SlotID: res.SlotID, NewStatus: models.SlotAvailable},
		changedFact(res, lot),
	)
	return res, nil
}

// ProcessArrival 预约车辆到场：沿用保留的车位（RESERVED -> OCCUPIED）开始会话
func (s *ReservationService) ProcessArrival(ctx context.Context, id int64) (*models.Session, error) {
	var (
		lot     *models.Lot
		res     *models.Reservation
		session *models.Session
	)
	err := tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		lot, err = s.stores.Lots.GetByID(ctx, current.LotID, true)
		if err != nil {
			return notFound(err, "lot %d", current.LotID)
		}
		if res, err = s.finish(ctx, current, state.EventArrive); err != nil {
			return err
		}

		slot, err := s.slots.Transition(ctx, res.SlotID, models.SlotReserved, models.SlotOccupied)
		if err != nil {
			return err
		}

		vehicle := &models.Vehicle{ID: res.VehicleID, Number: res.VehicleNumber}
		session, err = s.sessions.startSession(ctx, vehicle, slot, s.now())
		return err
	}))
	if err != nil {
		s.logger.Info("Reservation arrival rejected", zap.Int64("reservation_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Reserved vehicle arrived",
		zap.Int64("reservation_id", id),
		zap.String("vehicle_number", session.VehicleNumber),
		zap.Int64("slot_id", session.SlotID))

	publish(ctx, s.publisher, s.logger,
		changedFact(res, lot),
		enteredFact(session, lot),
		models.SlotStatusChanged{LotID: lot.ID, SlotID: session.SlotID, NewStatus: models.SlotOccupied},
	)
	return session, nil
}

// Expire 过期预约并释放车位，只由清扫任务或管理接口调用
// 预约已不是 ACTIVE（或版本已变）时返回 ErrReservationNotActive，不做任何修改
func (s *ReservationService) Expire(ctx context.Context, current *models.Reservation) error {
	var (
		lot *models.Lot
		res *models.Reservation
	)
	err := tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if res, err = s.finish(ctx, current, state.EventExpire); err != nil {
			return err
		}
		if _, err := s.slots.Release(ctx, res.SlotID); err != nil {
			return err
		}
		lot, err = s.stores.Lots.GetByID(ctx, res.LotID, true)
		return notFound(err, "lot %d", res.LotID)
	}))
	if err != nil {
		return err
	}

	s.logger.Info("Reservation expired",
		zap.Int64("reservation_id", res.ID),
		zap.String("vehicle_number", res.VehicleNumber),
		zap.Int64("slot_id", res.SlotID))

	publish(ctx, s.publisher, s.logger,
		models.SlotStatusChanged{LotID: res.LotID, SlotID: res.SlotID, NewStatus: models.SlotAvailable},
		changedFact(res, lot),
	)
	return nil
}

// ListActive 列出全部 ACTIVE 预约
func (s *ReservationService) ListActive(ctx context.Context) ([]*models.Reservation, error) {
	return s.stores.Reservations.ListActive(ctx)
}

// finish 按状态机把预约推进到终态，写入以读到的版本号为条件
func (s *ReservationService) finish(ctx context.Context, current *models.Reservation, event string) (*models.Reservation, error) {
	next, err := state.NextReservationStatus(ctx, current.Status, event)
	if err != nil {
		return nil, fmt.Errorf("%w: reservation %d is %s", ErrReservationNotActive, current.ID, current.Status)
	}

	res, err := s.stores.Reservations.UpdateStatus(ctx, current.ID, current.Version, next)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: reservation %d changed concurrently", ErrReservationNotActive, current.ID)
		}
		return nil, notFound(err, "reservation %d", current.ID)
	}
	return res, nil
}

func changedFact(res *models.Reservation, lot *models.Lot) models.ReservationChanged {
	fact := models.ReservationChanged{
		ReservationID:   res.ID,
		VehicleNumber:   res.VehicleNumber,
		SlotID:          res.SlotID,
		LotID:           res.LotID,
		ReservationTime: res.ReservationTime,
		ExpirationTime:  res.ExpirationTime,
		Status:          res.Status,
	}
	if lot != nil {
		fact.LotName = lot.Name
	}
	return fact
}
