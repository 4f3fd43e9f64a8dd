// Package events publishes matched trades and terminal order states to kafka.
// Emission is best-effort and happens after the command transaction commits;
// a publish failure is logged, never propagated into matching.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// Kafka topics for engine events.
const (
	TopicTrades = "orbit.trades"
	TopicOrders = "orbit.orders"
)

// Publisher is the event emission boundary the engine depends on.
type Publisher interface {
	PublishTrade(ctx context.Context, trade *models.Trade) error
	PublishOrder(ctx context.Context, order *models.Order) error
	Close() error
}

// Noop discards all events. Used when no brokers are configured and in tests.
type Noop struct{}

func (Noop) PublishTrade(context.Context, *models.Trade) error { return nil }
func (Noop) PublishOrder(context.Context, *models.Order) error { return nil }
func (Noop) Close() error                                      { return nil }

// KafkaPublisher writes JSON events keyed by market id so per-market ordering
// is preserved within a partition.
type KafkaPublisher struct {
	trades *kafka.Writer
	orders *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher connects writers for the trade and order topics.
func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &KafkaPublisher{
		trades: newWriter(TopicTrades),
		orders: newWriter(TopicOrders),
		logger: logger,
	}
}

func (p *KafkaPublisher) PublishTrade(ctx context.Context, trade *models.Trade) error {
	value, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	err = p.trades.WriteMessages(ctx, kafka.Message{
		Key:   []byte(trade.MarketID),
		Value: value,
	})
	if err != nil {
		p.logger.Warn("failed to publish trade event",
			zap.String("market", trade.MarketID),
			zap.String("trade_id", trade.ID.String()),
			zap.Error(err))
	}
	return err
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, order *models.Order) error {
	value, err := json.Marshal(order)
	if err != nil {
		return err
	}
	err = p.orders.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.MarketID),
		Value: value,
	})
	if err != nil {
		p.logger.Warn("failed to publish order event",
			zap.String("market", order.MarketID),
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}
	return err
}

func (p *KafkaPublisher) Close() error {
	if err := p.trades.Close(); err != nil {
		return err
	}
	return p.orders.Close()
}
