// Package notify delivers escalation events to external sinks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Event is a serialized alert ready for an external consumer.
type Event struct {
	ID       string
	TenantID string
	Kind     string
	Key      string
	Body     []byte
}

// Notifier emits events. Implementations must be safe for concurrent use.
type Notifier interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// LogNotifier writes events to the structured log. It is the default sink.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Emit logs the event at warn level so operators see it in the default stream.
func (n *LogNotifier) Emit(_ context.Context, event Event) error {
	n.logger.Warn("alert_emitted",
		zap.String("alert_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.String("kind", event.Kind),
		zap.String("key", event.Key),
		zap.ByteString("payload", event.Body),
	)
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events on a Redis pub/sub channel.
type RedisNotifier struct {
	client  publisher
	channel string
}

// NewRedisNotifier constructs a notifier publishing on channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

type envelope struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenantId"`
	Kind     string          `json:"kind"`
	Key      string          `json:"key"`
	Alert    json.RawMessage `json:"alert"`
}

// Emit publishes the event wrapped in a JSON envelope.
func (n *RedisNotifier) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(envelope{ID: event.ID, TenantID: event.TenantID, Kind: event.Kind, Key: event.Key, Alert: event.Body})
	if err != nil {
		return fmt.Errorf("marshal alert envelope: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", n.channel, err)
	}
	return nil
}

// Close leaves the shared Redis client open; its owner closes it.
func (n *RedisNotifier) Close() error { return nil }

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaNotifier produces events to a Kafka topic keyed by tenant so per-tenant order holds.
type KafkaNotifier struct {
	client producer
	topic  string
}

// NewKafkaNotifier dials the brokers and returns a synchronous producer.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaNotifier{client: client, topic: topic}, nil
}

// Emit produces the event and waits for broker acknowledgement.
func (n *KafkaNotifier) Emit(ctx context.Context, event Event) error {
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(event.TenantID),
		Value: event.Body,
		Headers: []kgo.RecordHeader{
			{Key: "alert-id", Value: []byte(event.ID)},
			{Key: "alert-kind", Value: []byte(event.Kind)},
			{Key: "dedupe-key", Value: []byte(event.Key)},
		},
	}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", n.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (n *KafkaNotifier) Close() error {
	n.client.Close()
	return nil
}
