package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/metrics"
	"github.com/langchou/parkgazer/internal/models"
)

// Dashboard 每个停车场的占用快照缓存
// 每次刷新都从车位表整体重算并整体替换快照，从不增量修改；
// 同一停车场的刷新串行执行，保证最后写入的是最后读到的计数
type Dashboard struct {
	lots      LotRepository
	slots     *SlotStore
	publisher Publisher
	logger    *zap.Logger
	threshold int
	now       func() time.Time

	mu           sync.RWMutex
	states       map[int64]*models.DashboardState
	refreshLocks sync.Map // lotID -> *sync.Mutex
}

// NewDashboard 创建看板缓存
func NewDashboard(lots LotRepository, slots *SlotStore, publisher Publisher, logger *zap.Logger, threshold int) *Dashboard {
	return &Dashboard{
		lots:      lots,
		slots:     slots,
		publisher: publisher,
		logger:    logger,
		threshold: threshold,
		now:       time.Now,
		states:    make(map[int64]*models.DashboardState),
	}
}

// Initialize 初始化停车场快照
func (d *Dashboard) Initialize(ctx context.Context, lotID int64) (*models.DashboardState, error) {
	return d.Refresh(ctx, lotID)
}

// RefreshAll 初始化全部在用停车场，进程启动时调用
func (d *Dashboard) RefreshAll(ctx context.Context) error {
	lots, err := d.lots.List(ctx, false)
	if err != nil {
		return fmt.Errorf("list lots: %w", err)
	}
	for _, lot := range lots {
		if _, err := d.Refresh(ctx, lot.ID); err != nil {
			return err
		}
	}
	d.logger.Info("Dashboard initialized", zap.Int("lots", len(lots)))
	return nil
}

// OnSlotStatusChanged 车位状态变更事实的处理函数
func (d *Dashboard) OnSlotStatusChanged(ctx context.Context, env models.Envelope) error {
	_, err := d.Refresh(ctx, env.LotID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Refresh 重算快照、广播占用更新，并在占用率达到阈值时告警（每次刷新都会重新告警）
func (d *Dashboard) Refresh(ctx context.Context, lotID int64) (*models.DashboardState, error) {
	lock := d.lotLock(lotID)
	lock.Lock()
	defer lock.Unlock()

	lot, err := d.lots.GetByID(ctx, lotID, false)
	if err != nil {
		d.Forget(lotID)
		return nil, notFound(err, "lot %d", lotID)
	}

	counts, err := d.slots.Counts(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("count slots: %w", err)
	}

	snapshot := &models.DashboardState{
		LotID:     lotID,
		Occupied:  counts[models.SlotOccupied],
		Available: counts[models.SlotAvailable],
		Reserved:  counts[models.SlotReserved],
		UpdatedAt: d.now(),
	}
	snapshot.TotalSlots = snapshot.Occupied + snapshot.Available + snapshot.Reserved
	pct := snapshot.OccupancyPercentage()

	d.mu.Lock()
	d.states[lotID] = snapshot
	d.mu.Unlock()

	label := strconv.FormatInt(lotID, 10)
	metrics.LotOccupancy.WithLabelValues(label).Set(float64(pct))

	facts := []models.Fact{models.OccupancyUpdate{
		LotID:               lotID,
		OccupiedSlots:       snapshot.Occupied,
		AvailableSlots:      snapshot.Available,
		ReservedSlots:       snapshot.Reserved,
		OccupancyPercentage: pct,
	}}
	if pct >= d.threshold {
		metrics.HighOccupancyAlertsTotal.WithLabelValues(label).Inc()
		d.logger.Warn("High occupancy", zap.Int64("lot_id", lotID), zap.Int("occupancy", pct))
		facts = append(facts, models.HighOccupancyAlert{
			LotID:               lotID,
			Message:             fmt.Sprintf("Lot %s is at %d%% occupancy", lot.Name, pct),
			OccupancyPercentage: pct,
		})
	}
	publish(ctx, d.publisher, d.logger, facts...)

	cp := *snapshot
	return &cp, nil
}

// Get 返回缓存的快照，未缓存时从存储初始化
func (d *Dashboard) Get(ctx context.Context, lotID int64) (*models.DashboardState, error) {
	d.mu.RLock()
	snapshot, ok := d.states[lotID]
	d.mu.RUnlock()
	if ok {
		cp := *snapshot
		return &cp, nil
	}
	return d.Initialize(ctx, lotID)
}

// Snapshots 当前全部快照，按停车场 id 排序
func (d *Dashboard) Snapshots() []models.DashboardState {
	d.mu.RLock()
	list := make([]models.DashboardState, 0, len(d.states))
	for _, s := range d.states {
		list = append(list, *s)
	}
	d.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].LotID < list[j].LotID })
	return list
}

// Forget 丢弃停车场快照（停车场下线时）
func (d *Dashboard) Forget(lotID int64) {
	d.mu.Lock()
	_, ok := d.states[lotID]
	delete(d.states, lotID)
	d.mu.Unlock()

	if ok {
		metrics.LotOccupancy.DeleteLabelValues(strconv.FormatInt(lotID, 10))
	}
}

func (d *Dashboard) lotLock(lotID int64) *sync.Mutex {
	lock, _ := d.refreshLocks.LoadOrStore(lotID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
