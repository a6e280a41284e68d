package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventTypeInbound is the envelope type for Inbound payloads.
const EventTypeInbound = "conversation.inbound.v1"

// Envelope captures transport metadata for events carried over a queue.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes the generated envelope (useful in tests).
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the timestamp stored in microseconds.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if ts.IsZero() {
			return
		}
		e.TimestampMicros = ts.UTC().UnixMicro()
	}
}

var (
	errUnexpectedType = errors.New("events: unexpected envelope type")
	nowFunc           = time.Now
)

// EncodeInbound wraps an inbound event in an envelope aggregated by lead id.
func EncodeInbound(evt Inbound, opts ...EnvelopeOption) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("events: marshal inbound payload: %w", err)
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       EventTypeInbound,
		Aggregate:       evt.LeadID,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		CorrelationID:   evt.CorrelationID,
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("events: marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeInbound unwraps an envelope produced by EncodeInbound. A bare Inbound
// JSON object is accepted too, for producers that do not wrap.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: decode envelope: %v", ErrInvalidEvent, err)
	}
	if env.EventType == "" && len(env.Payload) == 0 {
		var evt Inbound
		if err := json.Unmarshal(data, &evt); err != nil {
			return Inbound{}, fmt.Errorf("%w: decode inbound: %v", ErrInvalidEvent, err)
		}
		return evt, nil
	}
	if env.EventType != EventTypeInbound {
		return Inbound{}, fmt.Errorf("%w: %w %q", ErrInvalidEvent, errUnexpectedType, env.EventType)
	}
	var evt Inbound
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return Inbound{}, fmt.Errorf("%w: decode inbound payload: %v", ErrInvalidEvent, err)
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = env.CorrelationID
	}
	return evt, nil
}
