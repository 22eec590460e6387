package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/parkgazer/internal/models"
	"github.com/langchou/parkgazer/internal/repository"
)

// SessionRepository 会话仓库
type SessionRepository struct {
	s *Store
}

// Create 创建 ACTIVE 会话，车辆已有 ACTIVE 会话时返回 ErrDuplicate
func (r *SessionRepository) Create(ctx context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.sessions {
		if existing.VehicleID == sess.VehicleID && existing.Status == models.SessionActive {
			return fmt.Errorf("%w: active session for vehicle %d", repository.ErrDuplicate, sess.VehicleID)
		}
	}

	r.s.lastSessionID++
	sess.ID = r.s.lastSessionID
	sess.Status = models.SessionActive
	stored := *sess
	r.s.sessions[sess.ID] = &stored
	onRollback(ctx, func() { delete(r.s.sessions, stored.ID) })
	return nil
}

// GetByID 获取会话
func (r *SessionRepository) GetByID(_ context.Context, id int64) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.sessionView(sess), nil
}

// GetActiveByVehicle 获取车辆当前 ACTIVE 会话
func (r *SessionRepository) GetActiveByVehicle(_ context.Context, vehicleID int64) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.VehicleID == vehicleID && sess.Status == models.SessionActive {
			return r.s.sessionView(sess), nil
		}
	}
	return nil, repository.ErrNotFound
}

// Complete 结束会话，会话已不是 ACTIVE 时返回 ErrVersionConflict
func (r *SessionRepository) Complete(ctx context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.sessions[sess.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != models.SessionActive {
		return repository.ErrVersionConflict
	}

	prev := *stored
	stored.ExitTime = sess.ExitTime
	stored.TotalAmount = sess.TotalAmount
	stored.Status = sess.Status
	onRollback(ctx, func() { *stored = prev })
	return nil
}

// SumRevenue 统计停车场自 since 起已完成会话的收入，since 为零值时统计全部
func (r *SessionRepository) SumRevenue(_ context.Context, lotID int64, since time.Time) (float64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var total float64
	for _, sess := range r.s.sessions {
		if sess.LotID != lotID || sess.Status != models.SessionCompleted || sess.TotalAmount == nil {
			continue
		}
		if !since.IsZero() && (sess.ExitTime == nil || sess.ExitTime.Before(since)) {
			continue
		}
		total += *sess.TotalAmount
	}
	return total, nil
}

// sessionView 拷贝会话并补全车牌与车位号，调用方须持有 s.mu
func (s *Store) sessionView(sess *models.Session) *models.Session {
	cp := *sess
	if v, ok := s.vehicles[sess.VehicleID]; ok {
		cp.VehicleNumber = v.Number
	}
	if slot, ok := s.slots[sess.SlotID]; ok {
		cp.SlotNumber = slot.Number
	}
	return &cp
}
