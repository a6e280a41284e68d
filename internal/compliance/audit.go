package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventSendBlocked is logged when the gate refuses an automated send.
	EventSendBlocked AuditEventType = "compliance.send_blocked"
	// EventOptOut is logged when a lead opts out.
	EventOptOut AuditEventType = "compliance.opt_out"
	// EventHandoff is logged when a conversation is handed to a human.
	EventHandoff AuditEventType = "conversation.handoff"
	// EventAutomationResumed is logged when a human hands a lead back.
	EventAutomationResumed AuditEventType = "conversation.automation_resumed"
	// EventInvalidEvent is logged when an inbound event fails validation.
	EventInvalidEvent AuditEventType = "conversation.invalid_event"
	// EventFallbackUsed is logged when a generated draft is replaced by a template.
	EventFallbackUsed AuditEventType = "response.fallback_used"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	LeadID        string          `json:"lead_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Message       string          `json:"message,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For blocked sends
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	SendsInWindow int        `json:"sends_in_window,omitempty"`

	// For state-driven events
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`

	// For fallbacks
	GenerationError string `json:"generation_error,omitempty"`
}

// Auditor records compliance audit events.
type Auditor interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}

// AuditService handles compliance audit logging against SQL storage.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	event = withDefaults(event)

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, lead_id, correlation_id,
			reason, message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.LeadID,
		nullString(event.CorrelationID),
		nullString(event.Reason),
		nullString(event.Message),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, lead_id, correlation_id,
			   reason, message, details, created_at
		FROM compliance_audit_events
		WHERE lead_id = $1
	`
	args := []interface{}{filter.LeadID}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var corrID, reason, msg sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.LeadID, &corrID,
			&reason, &msg, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.CorrelationID = corrID.String
		e.Reason = reason.String
		e.Message = msg.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	LeadID    string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// LogAuditor writes audit events to the structured log. It is the default
// when no audit database is configured.
type LogAuditor struct {
	logger *logging.Logger
}

// NewLogAuditor creates a log-backed auditor.
func NewLogAuditor(logger *logging.Logger) *LogAuditor {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogAuditor{logger: logger}
}

// LogEvent logs the event at info level.
func (a *LogAuditor) LogEvent(_ context.Context, event AuditEvent) error {
	event = withDefaults(event)
	a.logger.Info("audit",
		"audit_id", event.ID,
		"event_type", string(event.EventType),
		"lead_id", event.LeadID,
		"correlation_id", event.CorrelationID,
		"reason", event.Reason,
		"details", string(event.Details),
	)
	return nil
}

func withDefaults(event AuditEvent) AuditEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return event
}

// MarshalDetails encodes details for an AuditEvent.
func MarshalDetails(d AuditDetails) json.RawMessage {
	b, _ := json.Marshal(d)
	return b
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
