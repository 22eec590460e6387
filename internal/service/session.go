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
	"github.com/langchou/parkgazer/internal/state"
)

// SessionService 车辆入场/出场
type SessionService struct {
	stores    Stores
	slots     *SlotStore
	pricing   *PricingEngine
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService 创建会话服务
func NewSessionService(stores Stores, slots *SlotStore, pricing *PricingEngine, publisher Publisher, logger *zap.Logger) *SessionService {
	return &SessionService{
		stores:    stores,
		slots:     slots,
		pricing:   pricing,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Enter 车辆入场：占用第一个空闲车位并开始会话
func (s *SessionService) Enter(ctx context.Context, vehicleNumber string, vehicleType models.VehicleType, lotID int64) (*models.Session, error) {
	vehicleNumber, err := normalizeVehicle(vehicleNumber, vehicleType)
	if err != nil {
		return nil, err
	}

	var (
		lot     *models.Lot
		session *models.Session
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

		slot, err := s.slots.ClaimFirstAvailable(ctx, lot.ID, models.SlotOccupied)
		if err != nil {
			return err
		}

		session, err = s.startSession(ctx, vehicle, slot, s.now())
		return err
	}))
	if err != nil {
		s.logger.Info("Vehicle entry rejected",
			zap.String("vehicle_number", vehicleNumber),
			zap.Int64("lot_id", lotID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Vehicle entered",
		zap.String("vehicle_number", vehicleNumber),
		zap.Int64("lot_id", lot.ID),
		zap.Int64("slot_id", session.SlotID))

	publish(ctx, s.publisher, s.logger,
		enteredFact(session, lot),
		models.SlotStatusChanged{LotID: lot.ID, SlotID: session.SlotID, NewStatus: models.SlotOccupied},
	)
	return session, nil
}

// Exit 车辆出场：先按当前占用率计费，再结束会话并释放车位
func (s *SessionService) Exit(ctx context.Context, vehicleNumber string) (*models.Session, models.Charge, error) {
	vehicleNumber = strings.TrimSpace(vehicleNumber)

	var (
		lot     *models.Lot
		session *models.Session
		charge  models.Charge
	)
	err := tryAgain(s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.activeSession(ctx, vehicleNumber)
		if err != nil {
			return err
		}

		lot, err = s.stores.Lots.GetByID(ctx, session.LotID, true)
		if err != nil {
			return notFound(err, "lot %d", session.LotID)
		}

		now := s.now()
		charge, err = s.pricing.ComputeCharge(ctx, session.EntryTime, now, lot)
		if err != nil {
			return err
		}

		next, err := state.NextSessionStatus(ctx, session.Status, state.EventExit)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSessionNotActive, err)
		}
		session.ExitTime = &now
		session.TotalAmount = &charge.Amount
		session.Status = next

		if err := s.stores.Sessions.Complete(ctx, session); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return ErrSessionNotActive
			}
			return fmt.Errorf("complete session: %w", err)
		}

		_, err = s.slots.Release(ctx, session.SlotID)
		return err
	}))
	if err != nil {
		s.logger.Info("Vehicle exit rejected", zap.String("vehicle_number", vehicleNumber), zap.Error(err))
		return nil, models.Charge{}, err
	}

	s.logger.Info("Vehicle exited",
		zap.String("vehicle_number", vehicleNumber),
		zap.Int64("lot_id", lot.ID),
		zap.Int64("slot_id", session.SlotID),
		zap.Float64("amount", charge.Amount),
		zap.Float64("multiplier", charge.Multiplier))

	publish(ctx, s.publisher, s.logger,
		models.VehicleExited{
			SessionID:     session.ID,
			VehicleNumber: session.VehicleNumber,
			LotID:         lot.ID,
			LotName:       lot.Name,
			SlotID:        session.SlotID,
			EntryTime:     session.EntryTime,
			ExitTime:      *session.ExitTime,
			TotalAmount:   charge.Amount,
		},
		models.SlotStatusChanged{LotID: lot.ID, SlotID: session.SlotID, NewStatus: models.SlotAvailable},
	)
	return session, charge, nil
}

// GetActiveSession 获取车辆当前会话
func (s *SessionService) GetActiveSession(ctx context.Context, vehicleNumber string) (*models.Session, error) {
	return s.activeSession(ctx, strings.TrimSpace(vehicleNumber))
}

func (s *SessionService) activeSession(ctx context.Context, vehicleNumber string) (*models.Session, error) {
	vehicle, err := s.stores.Vehicles.GetByNumber(ctx, vehicleNumber, true)
	if err != nil {
		return nil, notFound(err, "no active session for vehicle %s", vehicleNumber)
	}
	session, err := s.stores.Sessions.GetActiveByVehicle(ctx, vehicle.ID)
	if err != nil {
		return nil, notFound(err, "no active session for vehicle %s", vehicleNumber)
	}
	return session, nil
}

// startSession 在已占用的车位上开始会话，须在事务内调用
func (s *SessionService) startSession(ctx context.Context, vehicle *models.Vehicle, slot *models.Slot, entry time.Time) (*models.Session, error) {
	session := &models.Session{
		VehicleID:     vehicle.ID,
		VehicleNumber: vehicle.Number,
		LotID:         slot.LotID,
		SlotID:        slot.ID,
		SlotNumber:    slot.Number,
		EntryTime:     entry,
	}
	if err := s.stores.Sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrActiveSession
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func enteredFact(session *models.Session, lot *models.Lot) models.VehicleEntered {
	return models.VehicleEntered{
		SessionID:     session.ID,
		VehicleNumber: session.VehicleNumber,
		LotID:         lot.ID,
		SlotID:        session.SlotID,
		SlotNumber:    session.SlotNumber,
		LotName:       lot.Name,
		EntryTime:     session.EntryTime,
	}
}

// ensureVehicleFree 车辆不能同时持有 ACTIVE 会话和 ACTIVE 预约
// 入场和预约两条路径都要检查
func ensureVehicleFree(ctx context.Context, stores Stores, vehicleID int64) error {
	if _, err := stores.Sessions.GetActiveByVehicle(ctx, vehicleID); err == nil {
		return ErrActiveSession
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("check active session: %w", err)
	}

	if _, err := stores.Reservations.GetActiveByVehicle(ctx, vehicleID); err == nil {
		return ErrActiveReservation
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("check active reservation: %w", err)
	}
	return nil
}

func normalizeVehicle(number string, vehicleType models.VehicleType) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", badRequest("vehicle number is required")
	}
	if !vehicleType.Valid() {
		return "", badRequest("unknown vehicle type %q", vehicleType)
	}
	return number, nil
}
