// Package memory 进程内存储，与 PostgreSQL 仓库实现相同的契约
// 用于本地开发和服务层测试；各操作独立加锁，同一车辆的事务按车辆锁串行，与数据库的行锁一致
package memory

import (
	"context"
	"sync"

	"github.com/langchou/parkgazer/internal/models"
)

type txKey struct{}

// txLog 事务内写操作的撤销记录，以及事务持有的车辆锁
type txLog struct {
	mu       sync.Mutex
	undo     []func()
	vehicles map[string]chan struct{}
}

// Store 内存存储
type Store struct {
	mu sync.Mutex

	lots         map[int64]*models.Lot
	slots        map[int64]*models.Slot
	vehicles     map[int64]*models.Vehicle
	sessions     map[int64]*models.Session
	reservations map[int64]*models.Reservation

	// 车牌 -> 锁，对应 PostgreSQL 中车辆行的 upsert 行锁
	vehicleLocks map[string]chan struct{}

	lastLotID         int64
	lastSlotID        int64
	lastVehicleID     int64
	lastSessionID     int64
	lastReservationID int64
}

// New 创建内存存储
func New() *Store {
	return &Store{
		lots:         make(map[int64]*models.Lot),
		slots:        make(map[int64]*models.Slot),
		vehicles:     make(map[int64]*models.Vehicle),
		sessions:     make(map[int64]*models.Session),
		reservations: make(map[int64]*models.Reservation),
		vehicleLocks: make(map[string]chan struct{}),
	}
}

// Ping 健康检查
func (s *Store) Ping(context.Context) error {
	return nil
}

// InTx 在"事务"中执行 fn：fn 返回错误时按逆序撤销其全部写操作
// 嵌套调用加入外层事务
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txLog); ok {
		return fn(ctx)
	}

	log := &txLog{}
	err := fn(context.WithValue(ctx, txKey{}, log))
	if err != nil {
		s.rollback(log)
	}
	log.unlockVehicles()
	return err
}

// lockVehicle 在事务内锁住车牌，直到事务结束才释放
// 同一车辆的事务因此串行执行，事务外调用不加锁
func (s *Store) lockVehicle(ctx context.Context, number string) error {
	log, ok := ctx.Value(txKey{}).(*txLog)
	if !ok {
		return nil
	}
	log.mu.Lock()
	_, held := log.vehicles[number]
	log.mu.Unlock()
	if held {
		return nil
	}

	s.mu.Lock()
	lock, ok := s.vehicleLocks[number]
	if !ok {
		lock = make(chan struct{}, 1)
		s.vehicleLocks[number] = lock
	}
	s.mu.Unlock()

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.mu.Lock()
	if log.vehicles == nil {
		log.vehicles = make(map[string]chan struct{})
	}
	log.vehicles[number] = lock
	log.mu.Unlock()
	return nil
}

func (l *txLog) unlockVehicles() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for number, lock := range l.vehicles {
		<-lock
		delete(l.vehicles, number)
	}
}

func (s *Store) rollback(log *txLog) {
	log.mu.Lock()
	undo := log.undo
	log.undo = nil
	log.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// onRollback 登记撤销动作，调用方须持有 s.mu；撤销时同样在 s.mu 下执行
func onRollback(ctx context.Context, fn func()) {
	log, ok := ctx.Value(txKey{}).(*txLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.undo = append(log.undo, fn)
	log.mu.Unlock()
}

// Lots 停车场仓库
func (s *Store) Lots() *LotRepository { return &LotRepository{s: s} }

// Slots 车位仓库
func (s *Store) Slots() *SlotRepository { return &SlotRepository{s: s} }

// Vehicles 车辆仓库
func (s *Store) Vehicles() *VehicleRepository { return &VehicleRepository{s: s} }

// Sessions 会话仓库
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

// Reservations 预约仓库
func (s *Store) Reservations() *ReservationRepository { return &ReservationRepository{s: s} }
