// Package events publishes receipt lifecycle events for reporting and
// audit consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/metrics"
	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

type Type string

const (
	TypeIssued        Type = "receipt.issued"
	TypeChannelUpdate Type = "receipt.channel_updated"
	TypeAnomaly       Type = "receipt.anomaly"
)

type Event struct {
	ID            string               `json:"id"`
	Type          Type                 `json:"type"`
	ReceiptID     string               `json:"receipt_id"`
	ReceiptNumber string               `json:"receipt_number,omitempty"`
	Organization  string               `json:"organization,omitempty"`
	Channel       models.Channel       `json:"channel,omitempty"`
	Status        models.ChannelStatus `json:"status,omitempty"`
	ProviderRef   string               `json:"provider_ref,omitempty"`
	Detail        string               `json:"detail,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// New stamps an event with an id and the current time.
func New(t Type, receiptID string) Event {
	return Event{ID: uuid.NewString(), Type: t, ReceiptID: receiptID, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events. Implementations must not block the caller on
// broker latency.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Message encodes e as a Kafka message keyed by receipt id, so a
// receipt's events stay in one partition and keep their order.
func Message(e Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.ReceiptID),
		Value: data,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// KafkaPublisher writes events to a topic with an async batching writer.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.EventPublishErrors.Add(float64(len(messages)))
				logger.Error("failed to publish receipt events", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := Message(e)
	if err != nil {
		metrics.EventPublishErrors.Inc()
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventPublishErrors.Inc()
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
