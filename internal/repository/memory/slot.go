package memory

import (
	"context"
	"sort"
	"time"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// SlotRepository 车位仓库
type SlotRepository struct {
	s *Store
}

// GetByID 获取车位
func (r *SlotRepository) GetByID(_ context.Context, id int64) (*models.Slot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *slot
	return &cp, nil
}

// ListByLot 按 id 升序列出停车场车位，status 为空表示不过滤
func (r *SlotRepository) ListByLot(_ context.Context, lotID int64, status models.SlotStatus, includeRetired bool) ([]*models.Slot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var slots []*models.Slot
	for _, slot := range r.s.slots {
		if slot.LotID != lotID {
			continue
		}
		if status != "" && slot.Status != status {
			continue
		}
		if !includeRetired && slot.Lifecycle != models.LifecycleActive {
			continue
		}
		cp := *slot
		slots = append(slots, &cp)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	return slots, nil
}

// CompareAndSwapStatus 仅当版本号仍为 expectedVersion 且车位在用时更新状态并递增版本
func (r *SlotRepository) CompareAndSwapStatus(ctx context.Context, id, expectedVersion int64, status models.SlotStatus) (*models.Slot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if slot.Version != expectedVersion || slot.Lifecycle != models.LifecycleActive {
		return nil, repository.ErrVersionConflict
	}

	prev := slot.Status
	slot.Status = status
	slot.Version++
	slot.UpdatedAt = time.Now()

	// 撤销同样递增版本号，基于中间状态的并发 CAS 必然失败
	onRollback(ctx, func() {
		slot.Status = prev
		slot.Version++
	})

	cp := *slot
	return &cp, nil
}

// CountByStatus 统计在用车位中指定状态的数量
func (r *SlotRepository) CountByStatus(_ context.Context, lotID int64, status models.SlotStatus) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, slot := range r.s.slots {
		if slot.LotID == lotID && slot.Status == status && slot.Lifecycle == models.LifecycleActive {
			n++
		}
	}
	return n, nil
}

// CountsByLot 在同一把锁下统计各状态数量
func (r *SlotRepository) CountsByLot(_ context.Context, lotID int64, includeRetired bool) (map[models.SlotStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	counts := map[models.SlotStatus]int{
		models.SlotAvailable: 0,
		models.SlotOccupied:  0,
		models.SlotReserved:  0,
	}
	for _, slot := range r.s.slots {
		if slot.LotID != lotID {
			continue
		}
		if !includeRetired && slot.Lifecycle != models.LifecycleActive {
			continue
		}
		counts[slot.Status]++
	}
	return counts, nil
}
