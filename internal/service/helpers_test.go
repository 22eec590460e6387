package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/events"
	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// factRecorder 记录总线上的全部事实
type factRecorder struct {
	mu    sync.Mutex
	facts []models.Envelope
}

func (r *factRecorder) handle(_ context.Context, env models.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, env)
	return nil
}

func (r *factRecorder) ofType(t models.FactType) []models.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Envelope
	for _, f := range r.facts {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

type testEnv struct {
	store        *memory.Store
	stores       Stores
	clock        *fakeClock
	facts        *factRecorder
	slots        *SlotStore
	sessions     *SessionService
	reservations *ReservationService
	sweeper      *Sweeper
	dashboard    *Dashboard
	lots         *LotService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

// newTestEnvWith 可以包装车位仓库做故障注入
func newTestEnvWith(t *testing.T, wrap func(SlotRepository) SlotRepository) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()

	var slotRepo SlotRepository = store.Slots()
	if wrap != nil {
		slotRepo = wrap(slotRepo)
	}
	stores := Stores{
		Tx:           store,
		Lots:         store.Lots(),
		Slots:        slotRepo,
		Vehicles:     store.Vehicles(),
		Sessions:     store.Sessions(),
		Reservations: store.Reservations(),
	}

	bus := events.NewLocalBus(logger)
	clock := newFakeClock()
	facts := &factRecorder{}
	for _, ft := range models.AllFactTypes {
		require.NoError(t, bus.Subscribe(ft, facts.handle))
	}

	slots := NewSlotStore(slotRepo, logger, 3, 5*time.Millisecond)
	pricing := NewPricingEngine(slots, 30*time.Minute)
	sessions := NewSessionService(stores, slots, pricing, bus, logger)
	reservations := NewReservationService(stores, slots, sessions, bus, logger, 15*time.Minute)
	sweeper := NewSweeper(reservations, time.Minute, logger)
	dashboard := NewDashboard(stores.Lots, slots, bus, logger, 80)
	lots := NewLotService(stores, slots, dashboard, logger)
	require.NoError(t, bus.Subscribe(models.FactSlotStatusChanged, dashboard.OnSlotStatusChanged))

	sessions.now = clock.Now
	reservations.now = clock.Now
	sweeper.now = clock.Now
	dashboard.now = clock.Now
	lots.now = clock.Now

	return &testEnv{
		store:        store,
		stores:       stores,
		clock:        clock,
		facts:        facts,
		slots:        slots,
		sessions:     sessions,
		reservations: reservations,
		sweeper:      sweeper,
		dashboard:    dashboard,
		lots:         lots,
	}
}

func (e *testEnv) createLot(t *testing.T, name string, slots int, price float64) *models.Lot {
	t.Helper()
	lot, err := e.lots.Create(context.Background(), name, slots, price)
	require.NoError(t, err)
	return lot
}

func (e *testEnv) counts(t *testing.T, lotID int64) map[models.SlotStatus]int {
	t.Helper()
	counts, err := e.stores.Slots.CountsByLot(context.Background(), lotID, false)
	require.NoError(t, err)
	return counts
}

func (e *testEnv) slot(t *testing.T, id int64) *models.Slot {
	t.Helper()
	slot, err := e.stores.Slots.GetByID(context.Background(), id)
	require.NoError(t, err)
	return slot
}

// mockSlotRepository 未设置的方法委托给 next
type mockSlotRepository struct {
	next SlotRepository

	GetByIDFunc              func(ctx context.Context, id int64) (*models.Slot, error)
	ListByLotFunc            func(ctx context.Context, lotID int64, status models.SlotStatus, includeRetired bool) ([]*models.Slot, error)
	CompareAndSwapStatusFunc func(ctx context.Context, id, expectedVersion int64, status models.SlotStatus) (*models.Slot, error)
	CountByStatusFunc        func(ctx context.Context, lotID int64, status models.SlotStatus) (int, error)
}

func (m *mockSlotRepository) GetByID(ctx context.Context, id int64) (*models.Slot, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.next.GetByID(ctx, id)
}

func (m *mockSlotRepository) ListByLot(ctx context.Context, lotID int64, status models.SlotStatus, includeRetired bool) ([]*models.Slot, error) {
	if m.ListByLotFunc != nil {
		return m.ListByLotFunc(ctx, lotID, status, includeRetired)
	}
	return m.next.ListByLot(ctx, lotID, status, includeRetired)
}

func (m *mockSlotRepository) CompareAndSwapStatus(ctx context.Context, id, expectedVersion int64, status models.SlotStatus) (*models.Slot, error) {
	if m.CompareAndSwapStatusFunc != nil {
		return m.CompareAndSwapStatusFunc(ctx, id, expectedVersion, status)
	}
	return m.next.CompareAndSwapStatus(ctx, id, expectedVersion, status)
}

func (m *mockSlotRepository) CountByStatus(ctx context.Context, lotID int64, status models.SlotStatus) (int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx, lotID, status)
	}
	return m.next.CountByStatus(ctx, lotID, status)
}

func (m *mockSlotRepository) CountsByLot(ctx context.Context, lotID int64, includeRetired bool) (map[models.SlotStatus]int, error) {
	return m.next.CountsByLot(ctx, lotID, includeRetired)
}
