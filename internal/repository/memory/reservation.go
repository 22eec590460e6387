package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// ReservationRepository 预约仓库
type ReservationRepository struct {
	s *Store
}

// Create 创建 ACTIVE 预约，车辆已有 ACTIVE 预约时返回 ErrDuplicate
func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.reservations {
		if existing.VehicleID == res.VehicleID && existing.Status == models.ReservationActive {
			return fmt.Errorf("%w: active reservation for vehicle %d", repository.ErrDuplicate, res.VehicleID)
		}
	}

	r.s.lastReservationID++
	res.ID = r.s.lastReservationID
	res.Status = models.ReservationActive
	res.Version = 0
	stored := *res
	r.s.reservations[res.ID] = &stored
	onRollback(ctx, func() { delete(r.s.reservations, stored.ID) })
	return nil
}

// GetByID 获取预约
func (r *ReservationRepository) GetByID(_ context.Context, id int64) (*models.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.reservationView(res), nil
}

// GetActiveByVehicle 获取车辆当前 ACTIVE 预约
func (r *ReservationRepository) GetActiveByVehicle(_ context.Context, vehicleID int64) (*models.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, res := range r.s.reservations {
		if res.VehicleID == vehicleID && res.Status == models.ReservationActive {
			return r.s.reservationView(res), nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListActive 列出全部 ACTIVE 预约
func (r *ReservationRepository) ListActive(_ context.Context) ([]*models.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var list []*models.Reservation
	for _, res := range r.s.reservations {
		if res.Status == models.ReservationActive {
			list = append(list, r.s.reservationView(res))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ExpirationTime.Equal(list[j].ExpirationTime) {
			return list[i].ExpirationTime.Before(list[j].ExpirationTime)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// UpdateStatus 仅当预约仍为 ACTIVE 且版本号为 expectedVersion 时更新状态
func (r *ReservationRepository) UpdateStatus(ctx context.Context, id, expectedVersion int64, status models.ReservationStatus) (*models.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if res.Version != expectedVersion || res.Status != models.ReservationActive {
		return nil, repository.ErrVersionConflict
	}

	prev := res.Status
	res.Status = status
	res.Version++
	onRollback(ctx, func() {
		res.Status = prev
		res.Version++
	})
	return r.s.reservationView(res), nil
}

// reservationView 拷贝预约并补全车牌，调用方须持有 s.mu
func (s *Store) reservationView(res *models.Reservation) *models.Reservation {
	cp := *res
	if v, ok := s.vehicles[res.VehicleID]; ok {
		cp.VehicleNumber = v.Number
	}
	return &cp
}
