package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// LotRepository 停车场仓库
type LotRepository struct {
	s *Store
}

// Create 创建停车场并生成 1..N 号车位
func (r *LotRepository) Create(ctx context.Context, lot *models.Lot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range r.s.lots {
		if l.Lifecycle == models.LifecycleActive && l.Name == lot.Name {
			return fmt.Errorf("%w: lot name %q", repository.ErrDuplicate, lot.Name)
		}
	}

	now := time.Now()
	r.s.lastLotID++
	lot.ID = r.s.lastLotID
	lot.Lifecycle = models.LifecycleActive
	lot.CreatedAt = now
	stored := *lot
	r.s.lots[lot.ID] = &stored

	slotIDs := make([]int64, 0, lot.TotalSlots)
	for i := 1; i <= lot.TotalSlots; i++ {
		r.s.lastSlotID++
		r.s.slots[r.s.lastSlotID] = &models.Slot{
			ID:        r.s.lastSlotID,
			LotID:     lot.ID,
			Number:    strconv.Itoa(i),
			Status:    models.SlotAvailable,
			Lifecycle: models.LifecycleActive,
			UpdatedAt: now,
		}
		slotIDs = append(slotIDs, r.s.lastSlotID)
	}

	id := lot.ID
	onRollback(ctx, func() {
		delete(r.s.lots, id)
		for _, sid := range slotIDs {
			delete(r.s.slots, sid)
		}
	})
	return nil
}

// GetByID 获取停车场
func (r *LotRepository) GetByID(_ context.Context, id int64, includeRetired bool) (*models.Lot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.lots[id]
	if !ok || (!includeRetired && l.Lifecycle != models.LifecycleActive) {
		return nil, repository.ErrNotFound
	}
	lot := *l
	return &lot, nil
}

// List 获取停车场列表
func (r *LotRepository) List(_ context.Context, includeRetired bool) ([]*models.Lot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var lots []*models.Lot
	for _, l := range r.s.lots {
		if !includeRetired && l.Lifecycle != models.LifecycleActive {
			continue
		}
		lot := *l
		lots = append(lots, &lot)
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].ID < lots[j].ID })
	return lots, nil
}

// Retire 下线停车场及其全部车位，车位版本号递增
func (r *LotRepository) Retire(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.lots[id]
	if !ok || l.Lifecycle != models.LifecycleActive {
		return repository.ErrNotFound
	}
	l.Lifecycle = models.LifecycleRetired

	var retired []*models.Slot
	for _, slot := range r.s.slots {
		if slot.LotID == id && slot.Lifecycle == models.LifecycleActive {
			slot.Lifecycle = models.LifecycleRetired
			slot.Version++
			retired = append(retired, slot)
		}
	}

	onRollback(ctx, func() {
		l.Lifecycle = models.LifecycleActive
		for _, slot := range retired {
			slot.Lifecycle = models.LifecycleActive
			slot.Version++
		}
	})
	return nil
}
