package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/parkgazer/internal/models"
)

// LotRepository 停车场数据仓库
type LotRepository struct {
	db *DB
}

// NewLotRepository 创建停车场仓库
func NewLotRepository(db *DB) *LotRepository {
	return &LotRepository{db: db}
}

// Create 创建停车场并一次性生成 1..N 号车位
// 需要在事务内调用才能保证停车场与车位同时落库
func (r *LotRepository) Create(ctx context.Context, lot *models.Lot) error {
	q := r.db.conn(ctx)

	query := `
		INSERT INTO lots (name, total_slots, base_price_per_hour, lifecycle, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	now := time.Now()
	lot.Lifecycle = models.LifecycleActive
	err := q.QueryRow(ctx, query,
		lot.Name,
		lot.TotalSlots,
		lot.BasePricePerHour,
		lot.Lifecycle,
		now,
	).Scan(&lot.ID)
	if err != nil {
		return fmt.Errorf("insert lot: %w", translate(err))
	}
	lot.CreatedAt = now

	rows := make([][]any, 0, lot.TotalSlots)
	for i := 1; i <= lot.TotalSlots; i++ {
		rows = append(rows, []any{lot.ID, strconv.Itoa(i), models.SlotAvailable, 0, models.LifecycleActive, now})
	}
	_, err = r.copyFrom(ctx, q, rows)
	if err != nil {
		return fmt.Errorf("insert slots: %w", translate(err))
	}
	return nil
}

func (r *LotRepository) copyFrom(ctx context.Context, q querier, rows [][]any) (int64, error) {
	columns := []string{"lot_id", "number", "status", "version", "lifecycle", "updated_at"}
	switch c := q.(type) {
	case pgx.Tx:
		return c.CopyFrom(ctx, pgx.Identifier{"slots"}, columns, pgx.CopyFromRows(rows))
	default:
		return r.db.Pool.CopyFrom(ctx, pgx.Identifier{"slots"}, columns, pgx.CopyFromRows(rows))
	}
}

// GetByID 获取停车场
func (r *LotRepository) GetByID(ctx context.Context, id int64, includeRetired bool) (*models.Lot, error) {
	query := `
		SELECT id, name, total_slots, base_price_per_hour, lifecycle, created_at
		FROM lots WHERE id = $1 AND ($2 OR lifecycle = 'ACTIVE')
	`
	lot := &models.Lot{}
	err := r.db.conn(ctx).QueryRow(ctx, query, id, includeRetired).Scan(
		&lot.ID,
		&lot.Name,
		&lot.TotalSlots,
		&lot.BasePricePerHour,
		&lot.Lifecycle,
		&lot.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get lot by id: %w", translate(err))
	}
	return lot, nil
}

// List 获取停车场列表
func (r *LotRepository) List(ctx context.Context, includeRetired bool) ([]*models.Lot, error) {
	query := `
		SELECT id, name, total_slots, base_price_per_hour, lifecycle, created_at
		FROM lots WHERE $1 OR lifecycle = 'ACTIVE'
		ORDER BY id
	`
	rows, err := r.db.conn(ctx).Query(ctx, query, includeRetired)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		lot := &models.Lot{}
		if err := rows.Scan(
			&lot.ID,
			&lot.Name,
			&lot.TotalSlots,
			&lot.BasePricePerHour,
			&lot.Lifecycle,
			&lot.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// Retire 下线停车场及其全部车位
// 车位版本号同时递增，使并发中的 claim 失效
func (r *LotRepository) Retire(ctx context.Context, id int64) error {
	q := r.db.conn(ctx)

	tag, err := q.Exec(ctx, `UPDATE lots SET lifecycle = 'RETIRED' WHERE id = $1 AND lifecycle = 'ACTIVE'`, id)
	if err != nil {
		return fmt.Errorf("retire lot: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = q.Exec(ctx, `
		UPDATE slots SET lifecycle = 'RETIRED', version = version + 1, updated_at = NOW()
		WHERE lot_id = $1 AND lifecycle = 'ACTIVE'
	`, id)
	if err != nil {
		return fmt.Errorf("retire slots: %w", translate(err))
	}
	return nil
}
