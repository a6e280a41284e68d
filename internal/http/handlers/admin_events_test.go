package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

type capturePublisher struct {
	got []events.Inbound
	err error
}

func (p *capturePublisher) Publish(_ context.Context, evt events.Inbound) error {
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, evt)
	return nil
}

func postEvent(h *AdminEventsHandler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(body))
	h.PublishEvent(rec, req)
	return rec
}

func TestPublishEventFillsDefaults(t *testing.T) {
	pub := &capturePublisher{}
	h := NewAdminEventsHandler(pub, logging.Discard())
	fixed := time.Date(2026, time.March, 11, 15, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	rec := postEvent(h, `{"lead_id":"lead-9","trigger":"reengage","profile":{"name":"Dana","phone":"+15555550100"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.got) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.got))
	}
	evt := pub.got[0]
	if !strings.HasPrefix(evt.CorrelationID, "admin:") {
		t.Fatalf("expected generated correlation id, got %q", evt.CorrelationID)
	}
	if !evt.ReceivedAt.Equal(fixed) {
		t.Fatalf("expected received_at defaulted, got %s", evt.ReceivedAt)
	}
	if evt.Profile == nil || evt.Profile.Name != "Dana" {
		t.Fatalf("expected profile carried through, got %#v", evt.Profile)
	}

	var accepted EventAccepted
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.CorrelationID != evt.CorrelationID {
		t.Fatalf("response correlation id %q does not match %q", accepted.CorrelationID, evt.CorrelationID)
	}
}

func TestPublishEventKeepsCallerCorrelationID(t *testing.T) {
	pub := &capturePublisher{}
	h := NewAdminEventsHandler(pub, logging.Discard())

	rec := postEvent(h, `{"lead_id":"lead-9","channel":"sms","text":"still looking?","correlation_id":"crm-42"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if pub.got[0].CorrelationID != "crm-42" {
		t.Fatalf("expected caller correlation id, got %q", pub.got[0].CorrelationID)
	}
}

func TestPublishEventRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"malformed":       `{"lead_id":`,
		"unknown field":   `{"lead_id":"lead-9","trigger":"reengage","org":"x"}`,
		"missing lead":    `{"trigger":"reengage"}`,
		"unknown trigger": `{"lead_id":"lead-9","trigger":"birthday"}`,
		"empty message":   `{"lead_id":"lead-9","channel":"sms","text":"  "}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			pub := &capturePublisher{}
			rec := postEvent(NewAdminEventsHandler(pub, logging.Discard()), body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(pub.got) != 0 {
				t.Fatalf("nothing should be published")
			}
		})
	}
}

func TestPublishEventQueueFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("sqs unavailable")}
	rec := postEvent(NewAdminEventsHandler(pub, logging.Discard()), `{"lead_id":"lead-9","trigger":"dormancy_check"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
