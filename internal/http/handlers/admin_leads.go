package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lead-reengage/internal/conversation"
	httpmiddleware "github.com/wolfman30/lead-reengage/internal/http/middleware"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// LeadController performs the explicit human actions on a conversation.
// *conversation.Orchestrator implements it.
type LeadController interface {
	ResumeAutomation(ctx context.Context, leadID string) (*conversation.Result, error)
	Close(ctx context.Context, leadID string) (*conversation.Result, error)
}

// ContextLoader reads conversation contexts.
type ContextLoader interface {
	Load(ctx context.Context, leadID string) (*leads.ConversationContext, error)
}

// AdminLeadsHandler lets agents inspect a conversation and hand it back to
// automation or close it.
type AdminLeadsHandler struct {
	contexts   ContextLoader
	controller LeadController
	logger     *logging.Logger
}

// NewAdminLeadsHandler creates a new admin leads handler.
func NewAdminLeadsHandler(contexts ContextLoader, controller LeadController, logger *logging.Logger) *AdminLeadsHandler {
	if contexts == nil {
		panic("handlers: context loader cannot be nil")
	}
	if controller == nil {
		panic("handlers: lead controller cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminLeadsHandler{contexts: contexts, controller: controller, logger: logger}
}

// LeadResponse is the agent view of one conversation.
type LeadResponse struct {
	LeadID         string               `json:"lead_id"`
	State          leads.State          `json:"state"`
	Version        int64                `json:"version"`
	AIEnabled      bool                 `json:"ai_enabled"`
	OptedOut       bool                 `json:"opted_out"`
	HandoffPending bool                 `json:"handoff_pending"`
	Profile        leads.Profile        `json:"profile"`
	Qualification  leads.Qualification  `json:"qualification"`
	History        []leads.HistoryEntry `json:"history,omitempty"`
	PendingSend    bool                 `json:"pending_send"`
	LastInboundAt  *time.Time           `json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time           `json:"last_outbound_at,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// ActionResponse reports the result of a resume or close.
type ActionResponse struct {
	LeadID  string      `json:"lead_id"`
	Outcome string      `json:"outcome"`
	From    leads.State `json:"from,omitempty"`
	To      leads.State `json:"to,omitempty"`
}

// Routes mounts the handler under /admin/leads.
func (h *AdminLeadsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{leadID}", h.GetLead)
	r.Post("/{leadID}/resume", h.Resume)
	r.Post("/{leadID}/close", h.Close)
	return r
}

// GetLead handles GET /admin/leads/{leadID}. ?history=N limits the entries
// returned, newest last.
func (h *AdminLeadsHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	leadID := strings.TrimSpace(chi.URLParam(r, "leadID"))
	lc, err := h.contexts.Load(r.Context(), leadID)
	if errors.Is(err, leads.ErrLeadNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load lead", "lead_id", leadID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}

	history := lc.History
	if n := parsePositiveInt(r.URL.Query().Get("history"), 20); n < len(history) {
		history = history[len(history)-n:]
	}
	writeJSON(w, http.StatusOK, LeadResponse{
		LeadID:         lc.LeadID,
		State:          lc.State,
		Version:        lc.Version,
		AIEnabled:      lc.AIEnabled,
		OptedOut:       lc.OptedOut,
		HandoffPending: lc.HandoffPending,
		Profile:        lc.Profile,
		Qualification:  lc.Qualification,
		History:        history,
		PendingSend:    lc.Pending != nil,
		LastInboundAt:  timePtr(lc.LastInboundAt),
		LastOutboundAt: timePtr(lc.LastOutboundAt),
		UpdatedAt:      lc.UpdatedAt,
	})
}

// Resume handles POST /admin/leads/{leadID}/resume.
func (h *AdminLeadsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "resume", h.controller.ResumeAutomation)
}

// Close handles POST /admin/leads/{leadID}/close.
func (h *AdminLeadsHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "close", h.controller.Close)
}

func (h *AdminLeadsHandler) act(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (*conversation.Result, error)) {
	leadID := strings.TrimSpace(chi.URLParam(r, "leadID"))
	actor := httpmiddleware.Actor(r.Context())

	res, err := fn(r.Context(), leadID)
	if err != nil {
		status, msg := actionErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("admin action failed", "op", op, "lead_id", leadID, "actor", actor, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	h.logger.Info("admin action applied",
		"op", op,
		"lead_id", leadID,
		"actor", actor,
		"outcome", string(res.Outcome),
		"state", string(res.Transition.To),
	)
	writeJSON(w, http.StatusOK, ActionResponse{
		LeadID:  leadID,
		Outcome: string(res.Outcome),
		From:    res.Transition.From,
		To:      res.Transition.To,
	})
}

func actionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		return http.StatusNotFound, "lead not found"
	case errors.Is(err, conversation.ErrLeadOptedOut):
		return http.StatusConflict, "lead opted out"
	case errors.Is(err, conversation.ErrLockTimeout):
		return http.StatusServiceUnavailable, "lead is busy, retry"
	}
	switch conversation.KindOf(err) {
	case conversation.KindValidation:
		return http.StatusBadRequest, err.Error()
	case conversation.KindPersistenceConflict:
		return http.StatusConflict, "concurrent update, retry"
	default:
		return http.StatusInternalServerError, "action failed"
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
