package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/langchou/parkgazer/internal/models"
)

// 会话事件
const (
	EventExit = "exit"
)

// 预约事件
const (
	EventArrive = "arrive"
	EventCancel = "cancel"
	EventExpire = "expire"
)

// ErrInvalidTransition 当前状态不允许该事件
var ErrInvalidTransition = errors.New("invalid state transition")

// 会话: ACTIVE -> COMPLETED，不可重开
var sessionEvents = fsm.Events{
	{Name: EventExit, Src: []string{string(models.SessionActive)}, Dst: string(models.SessionCompleted)},
}

// 预约: ACTIVE 是唯一非终态，只能进入三个终态之一
var reservationEvents = fsm.Events{
	{Name: EventArrive, Src: []string{string(models.ReservationActive)}, Dst: string(models.ReservationCompleted)},
	{Name: EventCancel, Src: []string{string(models.ReservationActive)}, Dst: string(models.ReservationCancelled)},
	{Name: EventExpire, Src: []string{string(models.ReservationActive)}, Dst: string(models.ReservationExpired)},
}

// machine 以持久化状态为起点的一次性状态机
// 状态本身保存在存储层，这里只负责校验迁移是否合法
type machine struct {
	fsm *fsm.FSM
}

func newMachine(current string, events fsm.Events) *machine {
	return &machine{fsm: fsm.NewFSM(current, events, fsm.Callbacks{})}
}

func (m *machine) trigger(ctx context.Context, event string) error {
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, m.fsm.Current(), err)
	}
	return nil
}

// NextSessionStatus 计算会话触发 event 后的状态
func NextSessionStatus(ctx context.Context, current models.SessionStatus, event string) (models.SessionStatus, error) {
	m := newMachine(string(current), sessionEvents)
	if err := m.trigger(ctx, event); err != nil {
		return current, err
	}
	return models.SessionStatus(m.fsm.Current()), nil
}

// NextReservationStatus 计算预约触发 event 后的状态
func NextReservationStatus(ctx context.Context, current models.ReservationStatus, event string) (models.ReservationStatus, error) {
	m := newMachine(string(current), reservationEvents)
	if err := m.trigger(ctx, event); err != nil {
		return current, err
	}
	return models.ReservationStatus(m.fsm.Current()), nil
}
