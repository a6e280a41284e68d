package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

func TestPublisherEnqueuesEnvelope(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	evt := events.Inbound{
		LeadID:        "lead-1",
		Channel:       leads.ChannelSMS,
		Text:          "Can we see it Saturday?",
		ReceivedAt:    time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC),
		CorrelationID: "SM123",
	}
	if err := publisher.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish returned error: %v", err)
	}
	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.sent))
	}

	got, err := events.DecodeInbound([]byte(queue.sent[0]))
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if got.LeadID != "lead-1" || got.CorrelationID != "SM123" || got.Text != evt.Text {
		t.Fatalf("unexpected payload: %#v", got)
	}
	if !got.ReceivedAt.Equal(evt.ReceivedAt) {
		t.Fatalf("expected received_at %s, got %s", evt.ReceivedAt, got.ReceivedAt)
	}
}

func TestPublisherRejectsInvalidEvent(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	err := publisher.Publish(context.Background(), events.Inbound{LeadID: "lead-1", CorrelationID: "x"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation kind, got %s", KindOf(err))
	}
	if len(queue.sent) != 0 {
		t.Fatalf("expected nothing enqueued, got %d", len(queue.sent))
	}
}

func TestPublisherWrapsQueueError(t *testing.T) {
	queue := &stubQueue{err: errors.New("queue full")}
	publisher := NewPublisher(queue, logging.Default())

	err := publisher.Publish(context.Background(), events.Inbound{
		LeadID:        "lead-1",
		Trigger:       events.TriggerFollowupDue,
		ReceivedAt:    time.Now(),
		CorrelationID: "followup:1",
	})
	if err == nil || !errors.Is(err, queue.err) {
		t.Fatalf("expected queue error, got %v", err)
	}
}

type stubQueue struct {
	sent []string
	err  error
}

func (s *stubQueue) Send(ctx context.Context, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, body)
	return nil
}

func (s *stubQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	return nil, context.Canceled
}

func (s *stubQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}
