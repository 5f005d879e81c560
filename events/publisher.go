// Package events publishes payment outcomes for downstream consumers
// (notifications, dashboards, accounting).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeSubscriptionActivated = "subscription.activated"
	TypePaymentNotCompleted   = "payment.not_completed"
)

// Event is one reconciled payment outcome.
type Event struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId"`
	VendorID      string    `json:"vendorId"`
	PlanID        string    `json:"planId"`
	State         string    `json:"state"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Message       string    `json:"message,omitempty"`
	PeriodEnd     *time.Time `json:"periodEnd,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by transaction id, so every event for a
// transaction lands on the same partition.
type KafkaPublisher struct {
	log    *slog.Logger
	writer Writer
}

func NewKafkaPublisher(log *slog.Logger, brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(log, &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	})
}

func NewKafkaPublisherWithWriter(log *slog.Logger, w Writer) *KafkaPublisher {
	return &KafkaPublisher{log: log, writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.TransactionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("publish event failed", "type", e.Type, "transaction_id", e.TransactionID, "error", err)
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
