package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/lead-reengage/internal/events"
	httpmiddleware "github.com/wolfman30/lead-reengage/internal/http/middleware"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

const maxEventBody = 64 << 10

// EventPublisher enqueues inbound events for the conversation worker.
// *conversation.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, evt events.Inbound) error
}

// AdminEventsHandler accepts inbound events from operators and upstream
// systems (campaign tools, CRM syncs) and puts them on the queue.
type AdminEventsHandler struct {
	publisher EventPublisher
	logger    *logging.Logger
	now       func() time.Time
}

// NewAdminEventsHandler creates a new events handler.
func NewAdminEventsHandler(publisher EventPublisher, logger *logging.Logger) *AdminEventsHandler {
	if publisher == nil {
		panic("handlers: event publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminEventsHandler{publisher: publisher, logger: logger, now: time.Now}
}

// EventAccepted is returned once an event is queued.
type EventAccepted struct {
	LeadID        string `json:"lead_id"`
	CorrelationID string `json:"correlation_id"`
}

// PublishEvent handles POST /admin/events. A missing correlation id is
// generated, so callers that want replay safety must send their own.
func (h *AdminEventsHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var evt events.Inbound
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	evt.LeadID = strings.TrimSpace(evt.LeadID)
	if strings.TrimSpace(evt.CorrelationID) == "" {
		evt.CorrelationID = "admin:" + uuid.NewString()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = h.now().UTC()
	}
	if err := evt.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.publisher.Publish(r.Context(), evt); err != nil {
		if errors.Is(err, events.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to enqueue event", "lead_id", evt.LeadID, "correlation_id", evt.CorrelationID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue event")
		return
	}

	h.logger.Info("event enqueued",
		"lead_id", evt.LeadID,
		"correlation_id", evt.CorrelationID,
		"trigger", string(evt.Trigger),
		"actor", httpmiddleware.Actor(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, EventAccepted{LeadID: evt.LeadID, CorrelationID: evt.CorrelationID})
}

func parsePositiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
