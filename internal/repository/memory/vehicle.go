package memory

import (
	"context"
	"time"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// VehicleRepository 车辆仓库
type VehicleRepository struct {
	s *Store
}

// GetOrCreate 按车牌获取车辆，不存在则创建
// 在事务内调用时锁住该车辆直到事务结束；新建的车辆不随回滚删除
func (r *VehicleRepository) GetOrCreate(ctx context.Context, number string, vehicleType models.VehicleType) (*models.Vehicle, error) {
	if err := r.s.lockVehicle(ctx, number); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, v := range r.s.vehicles {
		if v.Number == number {
			v.Lifecycle = models.LifecycleActive
			cp := *v
			return &cp, nil
		}
	}

	r.s.lastVehicleID++
	v := &models.Vehicle{
		ID:        r.s.lastVehicleID,
		Number:    number,
		Type:      vehicleType,
		Lifecycle: models.LifecycleActive,
		CreatedAt: time.Now(),
	}
	r.s.vehicles[v.ID] = v

	cp := *v
	return &cp, nil
}

// GetByNumber 按车牌获取车辆
func (r *VehicleRepository) GetByNumber(_ context.Context, number string, includeRetired bool) (*models.Vehicle, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, v := range r.s.vehicles {
		if v.Number != number {
			continue
		}
		if !includeRetired && v.Lifecycle != models.LifecycleActive {
			break
		}
		cp := *v
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}
