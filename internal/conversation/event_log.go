package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// DecisionEvent is one structured step in handling an inbound event.
// All events share the same base fields for easy filtering/grep.
type DecisionEvent struct {
	Time          string         `json:"time"`
	Event         string         `json:"event"`
	LeadID        string         `json:"lead_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Seq           int64          `json:"seq,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// EventLogger emits structured JSON events at each decision point:
//
//	grep '"event":"state_transition"' /var/log/worker.log
//	grep '"lead_id":"lead_abc"' /var/log/worker.log
type EventLogger struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewEventLogger creates a new decision event logger.
func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger, now: time.Now}
}

// Log emits a structured decision event.
func (e *EventLogger) Log(_ context.Context, event, leadID, correlationID string, seq int64, data map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	evt := DecisionEvent{
		Time:          e.now().UTC().Format(time.RFC3339Nano),
		Event:         event,
		LeadID:        leadID,
		CorrelationID: correlationID,
		Seq:           seq,
		Data:          data,
	}
	b, _ := json.Marshal(evt)
	e.logger.Info(string(b))
}

func (e *EventLogger) EventReceived(ctx context.Context, leadID, corrID, kind, channel string, textLen int) {
	e.Log(ctx, "event_received", leadID, corrID, 0, map[string]any{
		"kind":     kind,
		"channel":  channel,
		"text_len": textLen,
	})
}

func (e *EventLogger) ComplianceBlocked(ctx context.Context, leadID, corrID string, seq int64, reason string, retryAt time.Time) {
	data := map[string]any{"reason": reason}
	if !retryAt.IsZero() {
		data["retry_at"] = retryAt.UTC().Format(time.RFC3339)
	}
	e.Log(ctx, "compliance_blocked", leadID, corrID, seq, data)
}

// IntentDetected logs the classification. ents is omitted when nil.
func (e *EventLogger) IntentDetected(ctx context.Context, leadID, corrID string, seq int64, intent string, confidence float64, matched string, ents map[string]any) {
	data := map[string]any{
		"intent":     intent,
		"confidence": confidence,
		"matched":    matched,
	}
	if ents != nil {
		data["entities"] = ents
	}
	e.Log(ctx, "intent_detected", leadID, corrID, seq, data)
}

func (e *EventLogger) StateTransition(ctx context.Context, leadID, corrID string, seq int64, from, to string, steps int) {
	e.Log(ctx, "state_transition", leadID, corrID, seq, map[string]any{
		"from":  from,
		"to":    to,
		"steps": steps,
	})
}

func (e *EventLogger) ActionPlanned(ctx context.Context, leadID, corrID string, seq int64, kind, goal, reason string) {
	e.Log(ctx, "action_planned", leadID, corrID, seq, map[string]any{
		"kind":   kind,
		"goal":   goal,
		"reason": reason,
	})
}

func (e *EventLogger) ReplySent(ctx context.Context, leadID, corrID string, seq int64, channel, source string, bodyLen int, duplicate bool) {
	e.Log(ctx, "reply_sent", leadID, corrID, seq, map[string]any{
		"channel":   channel,
		"source":    source,
		"body_len":  bodyLen,
		"duplicate": duplicate,
	})
}
