package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/lead-reengage/internal/leads"
)

func TestInboundEnvelopeRoundTrip(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	ts := time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)
	evt := Inbound{LeadID: "lead-1", Channel: leads.ChannelSMS, Text: "tomorrow works", ReceivedAt: ts, CorrelationID: "c1"}

	data, err := EncodeInbound(evt, WithEventID(id), WithTimestamp(ts))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventID != id || env.EventType != EventTypeInbound || env.Aggregate != "lead-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.TimestampMicros != ts.UnixMicro() {
		t.Fatalf("timestamp override ignored: %d", env.TimestampMicros)
	}

	got, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LeadID != evt.LeadID || got.Text != evt.Text || !got.ReceivedAt.Equal(ts) || got.CorrelationID != "c1" {
		t.Fatalf("unexpected decoded event: %+v", got)
	}
}

func TestDecodeInboundAcceptsBareEvent(t *testing.T) {
	got, err := DecodeInbound([]byte(`{"lead_id":"lead-2","channel":"email","text":"hello","correlation_id":"c2"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LeadID != "lead-2" || got.Channel != leads.ChannelEmail {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestDecodeInboundRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`not json`, `{"event_type":"payment.succeeded.v1","payload":{}}`} {
		if _, err := DecodeInbound([]byte(raw)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("DecodeInbound(%s) err=%v, want ErrInvalidEvent", raw, err)
		}
	}
}
