package events

import (
	"context"

	"github.com/langchou/parkgazer/internal/models"
)

// Broadcaster 推送通道，按停车场分发
type Broadcaster interface {
	BroadcastToLot(lotID int64, msgType string, data any)
}

// Forward 把全部事实转发给推送通道，消息类型即事实类型
func Forward(bus Bus, b Broadcaster) error {
	for _, t := range models.AllFactTypes {
		if err := bus.Subscribe(t, func(_ context.Context, env models.Envelope) error {
			b.BroadcastToLot(env.LotID, string(env.Type), env.Data)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}
