package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name    string
		event   AuditEvent
		execErr error
		wantErr bool
	}{
		{
			name: "send blocked",
			event: AuditEvent{
				EventType:     EventSendBlocked,
				LeadID:        "lead-1",
				CorrelationID: "corr-1",
				Reason:        string(ReasonQuietHours),
				Details:       json.RawMessage(`{"retry_at":"2026-03-12T08:00:00Z"}`),
			},
		},
		{
			name: "opt out without details",
			event: AuditEvent{
				EventType: EventOptOut,
				LeadID:    "lead-2",
			},
		},
		{
			name: "database failure",
			event: AuditEvent{
				EventType: EventHandoff,
				LeadID:    "lead-3",
			},
			execErr: errors.New("connection reset"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := mock.ExpectExec("INSERT INTO compliance_audit_events")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(1, 1))
			}

			err := service.LogEvent(context.Background(), tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogEventArguments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs("audit-1", EventSendBlocked, "lead-1", "corr-1", string(ReasonRateLimited), nil, sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewAuditService(db).LogEvent(context.Background(), AuditEvent{
		ID:            "audit-1",
		EventType:     EventSendBlocked,
		LeadID:        "lead-1",
		CorrelationID: "corr-1",
		Reason:        string(ReasonRateLimited),
		Details:       MarshalDetails(AuditDetails{SendsInWindow: 3}),
		CreatedAt:     at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "lead_id", "correlation_id",
		"reason", "message", "details", "created_at",
	}).AddRow(
		uuid.NewString(), EventSendBlocked, "lead-1", "corr-1",
		"QUIET_HOURS", nil, []byte(`{}`), now,
	).AddRow(
		uuid.NewString(), EventOptOut, "lead-1", nil,
		nil, "STOP", nil, now.Add(-time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM compliance_audit_events").
		WillReturnRows(rows)

	events, err := service.QueryEvents(context.Background(), AuditFilter{
		LeadID:    "lead-1",
		StartTime: now.Add(-24 * time.Hour),
		EndTime:   now,
		Limit:     100,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventSendBlocked, events[0].EventType)
	assert.Equal(t, "QUIET_HOURS", events[0].Reason)
	assert.Equal(t, "corr-1", events[0].CorrelationID)
	assert.Equal(t, "STOP", events[1].Message)
	assert.Empty(t, events[1].Details)
}

func TestLogAuditorNeverFails(t *testing.T) {
	a := NewLogAuditor(nil)
	assert.NoError(t, a.LogEvent(context.Background(), AuditEvent{EventType: EventOptOut, LeadID: "lead-1"}))
}

func TestAuditEventType_String(t *testing.T) {
	tests := []struct {
		eventType AuditEventType
		expected  string
	}{
		{EventSendBlocked, "compliance.send_blocked"},
		{EventOptOut, "compliance.opt_out"},
		{EventHandoff, "conversation.handoff"},
		{EventFallbackUsed, "response.fallback_used"},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.eventType))
		})
	}
}
