// Package events 对外发布核心事实
// 事实只在存储事务提交之后发布，投递至多一次；发布失败只记录日志
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/langchou/parkgazer/internal/models"
)

// Handler 事实处理函数
type Handler func(ctx context.Context, env models.Envelope) error

// Bus 事实总线
type Bus interface {
	Publish(ctx context.Context, fact models.Fact) error
	Subscribe(factType models.FactType, handler Handler) error
	Close() error
}

// NewEnvelope 为事实生成信封
func NewEnvelope(fact models.Fact) models.Envelope {
	return models.Envelope{
		ID:         uuid.NewString(),
		Type:       fact.Type(),
		LotID:      fact.Lot(),
		OccurredAt: time.Now().UTC(),
		Data:       fact,
	}
}
