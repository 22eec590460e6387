package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/parkgazer/internal/models"
)

// SlotRepository 车位数据仓库
// 状态变更只提供基于版本号的条件更新，重试策略由上层决定
type SlotRepository struct {
	db *DB
}

// NewSlotRepository 创建车位仓库
func NewSlotRepository(db *DB) *SlotRepository {
	return &SlotRepository{db: db}
}

const slotColumns = `id, lot_id, number, status, version, lifecycle, updated_at`

// GetByID 获取车位
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*models.Slot, error) {
	slot := &models.Slot{}
	err := r.db.conn(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id).Scan(
		&slot.ID,
		&slot.LotID,
		&slot.Number,
		&slot.Status,
		&slot.Version,
		&slot.Lifecycle,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get slot by id: %w", translate(err))
	}
	return slot, nil
}

// ListByLot 按 id 升序列出停车场车位，status 为空表示不过滤
func (r *SlotRepository) ListByLot(ctx context.Context, lotID int64, status models.SlotStatus, includeRetired bool) ([]*models.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE lot_id = $1 AND ($2::text = '' OR status = $2::text) AND ($3 OR lifecycle = 'ACTIVE')
		ORDER BY id
	`
	rows, err := r.db.conn(ctx).Query(ctx, query, lotID, string(status), includeRetired)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", translate(err))
	}
	defer rows.Close()

	var slots []*models.Slot
	for rows.Next() {
		slot := &models.Slot{}
		if err := rows.Scan(
			&slot.ID,
			&slot.LotID,
			&slot.Number,
			&slot.Status,
			&slot.Version,
			&slot.Lifecycle,
			&slot.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list slots: %w", translate(err))
	}
	return slots, nil
}

// CompareAndSwapStatus 仅当版本号仍为 expectedVersion 时更新状态并递增版本
// 版本不匹配（或车位已下线）返回 ErrVersionConflict
// 在事务内时使用保存点，锁等待超时只回滚本次尝试，外层事务可以继续重试
func (r *SlotRepository) CompareAndSwapStatus(ctx context.Context, id, expectedVersion int64, status models.SlotStatus) (*models.Slot, error) {
	q := r.db.conn(ctx)
	var sp pgx.Tx
	if tx, ok := q.(pgx.Tx); ok {
		var err error
		if sp, err = tx.Begin(ctx); err != nil {
			return nil, fmt.Errorf("begin savepoint: %w", err)
		}
		q = sp
	}

	query := `
		UPDATE slots SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND lifecycle = 'ACTIVE'
		RETURNING ` + slotColumns
	slot := &models.Slot{}
	err := q.QueryRow(ctx, query, status, id, expectedVersion).Scan(
		&slot.ID,
		&slot.LotID,
		&slot.Number,
		&slot.Status,
		&slot.Version,
		&slot.Lifecycle,
		&slot.UpdatedAt,
	)
	if err != nil {
		if sp != nil {
			_ = sp.Rollback(ctx)
		}
		err = translate(err)
		if errors.Is(err, ErrNotFound) {
			// 区分车位不存在与版本冲突
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrVersionConflict
		}
		if errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("cas slot status: %w", err)
	}

	if sp != nil {
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", translate(err))
		}
	}
	return slot, nil
}

// CountByStatus 统计停车场在用车位中指定状态的数量，始终实时计算
func (r *SlotRepository) CountByStatus(ctx context.Context, lotID int64, status models.SlotStatus) (int, error) {
	var n int
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM slots WHERE lot_id = $1 AND status = $2 AND lifecycle = 'ACTIVE'
	`, lotID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count slots by status: %w", translate(err))
	}
	return n, nil
}

// CountsByLot 单条语句统计各状态数量，保证快照内部一致
func (r *SlotRepository) CountsByLot(ctx context.Context, lotID int64, includeRetired bool) (map[models.SlotStatus]int, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM slots
		WHERE lot_id = $1 AND ($2 OR lifecycle = 'ACTIVE')
		GROUP BY status
	`, lotID, includeRetired)
	if err != nil {
		return nil, fmt.Errorf("count slots: %w", translate(err))
	}
	defer rows.Close()

	counts := map[models.SlotStatus]int{
		models.SlotAvailable: 0,
		models.SlotOccupied:  0,
		models.SlotReserved:  0,
	}
	for rows.Next() {
		var status models.SlotStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan slot count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
