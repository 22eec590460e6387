package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/models"
)

// LocalBus 进程内同步总线
// 处理函数在锁外调用，允许处理过程中再次发布（看板刷新会发布占用更新）
type LocalBus struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[models.FactType][]Handler
}

// NewLocalBus 创建进程内总线
func NewLocalBus(logger *zap.Logger) *LocalBus {
	return &LocalBus{
		logger:   logger,
		handlers: make(map[models.FactType][]Handler),
	}
}

// Publish 依次调用订阅者，单个订阅者失败不影响其他订阅者
func (b *LocalBus) Publish(ctx context.Context, fact models.Fact) error {
	env := NewEnvelope(fact)

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[env.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, env); err != nil {
			b.logger.Error("Fact handler failed",
				zap.String("type", string(env.Type)),
				zap.Int64("lot_id", env.LotID),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe 订阅某类事实
func (b *LocalBus) Subscribe(factType models.FactType, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[factType] = append(b.handlers[factType], handler)
	return nil
}

// Close 无需释放资源
func (b *LocalBus) Close() error {
	return nil
}
