package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/langchou/parkgazer/internal/models"
)

// NATSBus 基于 NATS core 的总线，主题为 <prefix>.<fact type>
// 多实例部署时所有实例都能收到事实并各自刷新本地看板
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSBus 连接 NATS
func NewNATSBus(url, prefix string, logger *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("parkgazer"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", url), zap.String("prefix", prefix))
	return &NATSBus{conn: nc, prefix: prefix, logger: logger}, nil
}

// Subject 事实类型对应的主题
func (b *NATSBus) Subject(factType models.FactType) string {
	return b.prefix + "." + string(factType)
}

// Publish 发布事实
func (b *NATSBus) Publish(_ context.Context, fact models.Fact) error {
	data, err := json.Marshal(NewEnvelope(fact))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.conn.Publish(b.Subject(fact.Type()), data); err != nil {
		return fmt.Errorf("publish %s: %w", fact.Type(), err)
	}
	return nil
}

// Subscribe 订阅某类事实，Data 解码为 JSON 对象
func (b *NATSBus) Subscribe(factType models.FactType, handler Handler) error {
	subject := b.Subject(factType)
	_, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env models.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Error("Failed to decode envelope", zap.String("subject", subject), zap.Error(err))
			return
		}
		if err := handler(context.Background(), env); err != nil {
			b.logger.Error("Fact handler failed",
				zap.String("subject", subject),
				zap.Int64("lot_id", env.LotID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return nil
}

// Close 排空订阅后关闭连接
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
