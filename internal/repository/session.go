package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/parkgazer/internal/models"
)

// SessionRepository 停车会话数据仓库
type SessionRepository struct {
	db *DB
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionSelect = `
	SELECT s.id, s.vehicle_id, v.number, s.lot_id, s.slot_id, sl.number,
		s.entry_time, s.exit_time, s.total_amount, s.status
	FROM sessions s
	JOIN vehicles v ON v.id = s.vehicle_id
	JOIN slots sl ON sl.id = s.slot_id
`

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(
		&s.ID,
		&s.VehicleID,
		&s.VehicleNumber,
		&s.LotID,
		&s.SlotID,
		&s.SlotNumber,
		&s.EntryTime,
		&s.ExitTime,
		&s.TotalAmount,
		&s.Status,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create 创建 ACTIVE 会话，车辆已有 ACTIVE 会话时返回 ErrDuplicate
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (vehicle_id, lot_id, slot_id, entry_time, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	s.Status = models.SessionActive
	err := r.db.conn(ctx).QueryRow(ctx, query,
		s.VehicleID,
		s.LotID,
		s.SlotID,
		s.EntryTime,
		s.Status,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", translate(err))
	}
	return nil
}

// GetByID 获取会话
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	s, err := scanSession(r.db.conn(ctx).QueryRow(ctx, sessionSelect+` WHERE s.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get session by id: %w", translate(err))
	}
	return s, nil
}

// GetActiveByVehicle 获取车辆当前 ACTIVE 会话
func (r *SessionRepository) GetActiveByVehicle(ctx context.Context, vehicleID int64) (*models.Session, error) {
	s, err := scanSession(r.db.conn(ctx).QueryRow(ctx, sessionSelect+` WHERE s.vehicle_id = $1 AND s.status = 'ACTIVE'`, vehicleID))
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", translate(err))
	}
	return s, nil
}

// Complete 结束会话，会话已不是 ACTIVE 时返回 ErrVersionConflict
func (r *SessionRepository) Complete(ctx context.Context, s *models.Session) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE sessions SET exit_time = $1, total_amount = $2, status = $3
		WHERE id = $4 AND status = 'ACTIVE'
	`, s.ExitTime, s.TotalAmount, s.Status, s.ID)
	if err != nil {
		return fmt.Errorf("complete session: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SumRevenue 统计停车场自 since 起已完成会话的收入，since 为零值时统计全部
func (r *SessionRepository) SumRevenue(ctx context.Context, lotID int64, since time.Time) (float64, error) {
	var total float64
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0) FROM sessions
		WHERE lot_id = $1 AND status = 'COMPLETED' AND ($2::timestamptz IS NULL OR exit_time >= $2)
	`, lotID, nullableTime(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum revenue: %w", translate(err))
	}
	return total, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
