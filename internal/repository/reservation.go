package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/parkgazer/internal/models"
)

// ReservationRepository 预约数据仓库
type ReservationRepository struct {
	db *DB
}

// NewReservationRepository 创建预约仓库
func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationSelect = `
	SELECT r.id, r.vehicle_id, v.number, r.lot_id, r.slot_id,
		r.reservation_time, r.expiration_time, r.status, r.version
	FROM reservations r
	JOIN vehicles v ON v.id = r.vehicle_id
`

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := row.Scan(
		&res.ID,
		&res.VehicleID,
		&res.VehicleNumber,
		&res.LotID,
		&res.SlotID,
		&res.ReservationTime,
		&res.ExpirationTime,
		&res.Status,
		&res.Version,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Create 创建 ACTIVE 预约，车辆已有 ACTIVE 预约时返回 ErrDuplicate
func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO reservations (vehicle_id, lot_id, slot_id, reservation_time, expiration_time, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING id
	`
	res.Status = models.ReservationActive
	res.Version = 0
	err := r.db.conn(ctx).QueryRow(ctx, query,
		res.VehicleID,
		res.LotID,
		res.SlotID,
		res.ReservationTime,
		res.ExpirationTime,
		res.Status,
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", translate(err))
	}
	return nil
}

// GetByID 获取预约
func (r *ReservationRepository) GetByID(ctx context.Context, id int64) (*models.Reservation, error) {
	res, err := scanReservation(r.db.conn(ctx).QueryRow(ctx, reservationSelect+` WHERE r.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get reservation by id: %w", translate(err))
	}
	return res, nil
}

// GetActiveByVehicle 获取车辆当前 ACTIVE 预约
func (r *ReservationRepository) GetActiveByVehicle(ctx context.Context, vehicleID int64) (*models.Reservation, error) {
	res, err := scanReservation(r.db.conn(ctx).QueryRow(ctx, reservationSelect+` WHERE r.vehicle_id = $1 AND r.status = 'ACTIVE'`, vehicleID))
	if err != nil {
		return nil, fmt.Errorf("get active reservation: %w", translate(err))
	}
	return res, nil
}

// ListActive 列出全部 ACTIVE 预约
func (r *ReservationRepository) ListActive(ctx context.Context) ([]*models.Reservation, error) {
	rows, err := r.db.conn(ctx).Query(ctx, reservationSelect+` WHERE r.status = 'ACTIVE' ORDER BY r.expiration_time, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", translate(err))
	}
	defer rows.Close()

	var list []*models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// UpdateStatus 仅当预约仍为 ACTIVE 且版本号为 expectedVersion 时更新状态
// 与取消/到场/过期并发时先提交者获胜，后者得到 ErrVersionConflict
func (r *ReservationRepository) UpdateStatus(ctx context.Context, id, expectedVersion int64, status models.ReservationStatus) (*models.Reservation, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE reservations SET status = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND status = 'ACTIVE'
	`, status, id, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update reservation status: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}

	return r.GetByID(ctx, id)
}
