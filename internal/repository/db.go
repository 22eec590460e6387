package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict CAS 版本不匹配或行锁等待超时
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("duplicate record")
)

// PostgreSQL 错误码
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// querier pgxpool.Pool 与 pgx.Tx 的公共子集
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// DB 数据库连接池封装
type DB struct {
	Pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool, lockTimeout: lockTimeout}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping 健康检查
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// InTx 在事务中执行 fn，fn 内的仓库调用通过 ctx 复用同一事务
// 已在事务中时直接加入外层事务
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 行锁等待必须有上限，超时按版本冲突处理，由上层重试
	if db.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	return nil
}

// conn 返回当前事务或连接池
func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.Pool
}

// translate 把驱动错误映射为仓库哨兵错误
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
		}
	}
	return err
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateLots,
		migrationCreateSlots,
		migrationCreateVehicles,
		migrationCreateSessions,
		migrationCreateReservations,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

const migrationCreateLots = `
CREATE TABLE IF NOT EXISTS lots (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    total_slots INT NOT NULL CHECK (total_slots > 0),
    base_price_per_hour DOUBLE PRECISION NOT NULL CHECK (base_price_per_hour >= 0),
    lifecycle VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
-- 名称只在未下线的停车场之间唯一
CREATE UNIQUE INDEX IF NOT EXISTS uq_lots_active_name ON lots(name) WHERE lifecycle = 'ACTIVE';
`

const migrationCreateSlots = `
CREATE TABLE IF NOT EXISTS slots (
    id BIGSERIAL PRIMARY KEY,
    lot_id BIGINT NOT NULL REFERENCES lots(id),
    number VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'AVAILABLE',
    version BIGINT NOT NULL DEFAULT 0,
    lifecycle VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE (lot_id, number)
);
CREATE INDEX IF NOT EXISTS idx_slots_lot_status ON slots(lot_id, status);
`

const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id BIGSERIAL PRIMARY KEY,
    number VARCHAR(32) NOT NULL UNIQUE,
    type VARCHAR(8) NOT NULL,
    lifecycle VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    lot_id BIGINT NOT NULL REFERENCES lots(id),
    slot_id BIGINT NOT NULL REFERENCES slots(id),
    entry_time TIMESTAMP WITH TIME ZONE NOT NULL,
    exit_time TIMESTAMP WITH TIME ZONE,
    total_amount DOUBLE PRECISION,
    status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE'
);
-- 每辆车最多一个 ACTIVE 会话
CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_active_vehicle ON sessions(vehicle_id) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_sessions_lot_exit ON sessions(lot_id, exit_time);
`

const migrationCreateReservations = `
CREATE TABLE IF NOT EXISTS reservations (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    lot_id BIGINT NOT NULL REFERENCES lots(id),
    slot_id BIGINT NOT NULL REFERENCES slots(id),
    reservation_time TIMESTAMP WITH TIME ZONE NOT NULL,
    expiration_time TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
    version BIGINT NOT NULL DEFAULT 0
);
-- 每辆车最多一个 ACTIVE 预约
CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_active_vehicle ON reservations(vehicle_id) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_reservations_status_expiration ON reservations(status, expiration_time);
`
