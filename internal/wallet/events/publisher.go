// Package events provides ledger event publishing for the wallet module
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
)

// Publisher is one event sink
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// LedgerEventPublisher fans committed ledger events out to every configured
// sink. Publishing happens after the mutation commits and is fire-and-forget:
// the overall publish fails only when every sink fails.
type LedgerEventPublisher struct {
	publishers []Publisher
	topic      string
	log        *zap.Logger
}

// NewLedgerEventPublisher creates a new ledger event publisher
func NewLedgerEventPublisher(publishers []Publisher, topic string, log *zap.Logger) *LedgerEventPublisher {
	if topic == "" {
		topic = "wallet.ledger"
	}
	return &LedgerEventPublisher{
		publishers: publishers,
		topic:      topic,
		log:        log,
	}
}

// PublishLedgerEvent publishes a committed ledger event to all sinks
func (p *LedgerEventPublisher) PublishLedgerEvent(ctx context.Context, event *interfaces.LedgerEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	var lastErr error
	successCount := 0

	for i, publisher := range p.publishers {
		if err := publisher.PublishEvent(ctx, p.topic, event); err != nil {
			p.log.Error("failed to publish ledger event",
				zap.Int("publisher_index", i),
				zap.String("entry_id", event.EntryID.String()),
				zap.String("type", event.Type),
				zap.Error(err),
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	p.log.Debug("published ledger event",
		zap.String("entry_id", event.EntryID.String()),
		zap.String("user_id", event.UserID.String()),
		zap.String("asset", event.Asset),
		zap.String("type", event.Type),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(p.publishers)),
	)

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

// KafkaPublisher implements Publisher for Apache Kafka
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		log: log,
	}
}

// PublishEvent publishes an event to Kafka, keyed by user for per-user
// ordering
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := topic
	if le, ok := event.(*interfaces.LedgerEvent); ok {
		key = le.UserID.String()
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventData,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	return k.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the Kafka writer
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// RedisStreamPublisher implements Publisher on a Redis Stream
type RedisStreamPublisher struct {
	client redis.Cmdable
	log    *zap.Logger
}

// NewRedisStreamPublisher creates a new Redis Stream publisher
func NewRedisStreamPublisher(client redis.Cmdable, log *zap.Logger) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		client: client,
		log:    log,
	}
}

// PublishEvent appends an event to the topic's Redis Stream
func (r *RedisStreamPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"data":      string(eventData),
			"timestamp": time.Now().Format(time.RFC3339),
			"source":    "walletcore",
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.log.Debug("published event to redis stream",
		zap.String("stream", topic),
		zap.String("message_id", result.Val()),
	)
	return nil
}
