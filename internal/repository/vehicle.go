package repository

import (
	"context"
	"fmt"

	"github.com/langchou/parkgazer/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// GetOrCreate 按车牌获取车辆，不存在则创建；已下线的车辆会被重新启用
func (r *VehicleRepository) GetOrCreate(ctx context.Context, number string, vehicleType models.VehicleType) (*models.Vehicle, error) {
	query := `
		INSERT INTO vehicles (number, type, lifecycle)
		VALUES ($1, $2, 'ACTIVE')
		ON CONFLICT (number) DO UPDATE SET lifecycle = 'ACTIVE'
		RETURNING id, number, type, lifecycle, created_at
	`
	v := &models.Vehicle{}
	err := r.db.conn(ctx).QueryRow(ctx, query, number, vehicleType).Scan(
		&v.ID,
		&v.Number,
		&v.Type,
		&v.Lifecycle,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert vehicle: %w", translate(err))
	}
	return v, nil
}

// GetByNumber 按车牌获取车辆
func (r *VehicleRepository) GetByNumber(ctx context.Context, number string, includeRetired bool) (*models.Vehicle, error) {
	query := `
		SELECT id, number, type, lifecycle, created_at
		FROM vehicles WHERE number = $1 AND ($2 OR lifecycle = 'ACTIVE')
	`
	v := &models.Vehicle{}
	err := r.db.conn(ctx).QueryRow(ctx, query, number, includeRetired).Scan(
		&v.ID,
		&v.Number,
		&v.Type,
		&v.Lifecycle,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get vehicle by number: %w", translate(err))
	}
	return v, nil
}
