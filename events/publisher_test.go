package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// fakeWriter is a test writer that records messages written.
type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(slog.New(slog.NewTextHandler(io.Discard, nil)), fw)
	err := p.Publish(context.Background(), Event{Type: TypeSubscriptionActivated, TransactionID: "TX-1", VendorID: "v1", State: "success"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "TX-1" {
		t.Fatalf("expected transaction id key, got %q", fw.msgs[0].Key)
	}
	var got Event
	if err := json.Unmarshal(fw.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeSubscriptionActivated || got.OccurredAt.IsZero() {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestPublishError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(slog.New(slog.NewTextHandler(io.Discard, nil)), fw)
	if err := p.Publish(context.Background(), Event{Type: TypePaymentNotCompleted, TransactionID: "TX-2"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublishPeriodEndOnlyWhenSet(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(slog.New(slog.NewTextHandler(io.Discard, nil)), fw)

	if err := p.Publish(context.Background(), Event{Type: TypePaymentNotCompleted, TransactionID: "TX-3"}); err != nil {
		t.Fatal(err)
	}
	end := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	if err := p.Publish(context.Background(), Event{Type: TypeSubscriptionActivated, TransactionID: "TX-4", PeriodEnd: &end}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(fw.msgs[0].Value), "periodEnd") {
		t.Fatalf("not-completed event carries a period end: %s", fw.msgs[0].Value)
	}
	var got Event
	if err := json.Unmarshal(fw.msgs[1].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.PeriodEnd == nil || !got.PeriodEnd.Equal(end) {
		t.Fatalf("expected period end %v, got %v", end, got.PeriodEnd)
	}
}
