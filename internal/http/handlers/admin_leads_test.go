package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/lead-reengage/internal/conversation"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/statemachine"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

type stubController struct {
	calls []string
	err   error
}

func (c *stubController) ResumeAutomation(_ context.Context, leadID string) (*conversation.Result, error) {
	c.calls = append(c.calls, "resume:"+leadID)
	if c.err != nil {
		return nil, c.err
	}
	return &conversation.Result{
		LeadID:     leadID,
		Outcome:    conversation.OutcomeResumed,
		Transition: statemachine.Transition{From: leads.StateHandoff, To: leads.StateEngaged},
	}, nil
}

func (c *stubController) Close(_ context.Context, leadID string) (*conversation.Result, error) {
	c.calls = append(c.calls, "close:"+leadID)
	if c.err != nil {
		return nil, c.err
	}
	return &conversation.Result{
		LeadID:     leadID,
		Outcome:    conversation.OutcomeClosed,
		Transition: statemachine.Transition{From: leads.StateHandoff, To: leads.StateClosed},
	}, nil
}

func seededRepo(t *testing.T) *leads.InMemoryRepository {
	t.Helper()
	repo := leads.NewInMemoryRepository()
	now := time.Date(2026, time.March, 11, 15, 0, 0, 0, time.UTC)
	lc := leads.NewContext("lead-1", now)
	lc.State = leads.StateHandoff
	lc.HandoffPending = true
	for i := 0; i < 5; i++ {
		lc.AppendHistory(leads.HistoryEntry{
			Direction: leads.Inbound,
			Channel:   leads.ChannelSMS,
			Text:      fmt.Sprintf("message %d", i),
			At:        now.Add(time.Duration(i) * time.Minute),
		}, 50)
	}
	if err := repo.Save(context.Background(), lc, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}

func TestAdminLeadsGetLead(t *testing.T) {
	h := NewAdminLeadsHandler(seededRepo(t), &stubController{}, logging.Discard())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lead-1?history=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp LeadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != leads.StateHandoff || !resp.HandoffPending {
		t.Fatalf("unexpected state %s handoff=%v", resp.State, resp.HandoffPending)
	}
	if len(resp.History) != 2 || resp.History[1].Text != "message 4" {
		t.Fatalf("expected the two newest entries, got %#v", resp.History)
	}
}

func TestAdminLeadsGetLeadNotFound(t *testing.T) {
	h := NewAdminLeadsHandler(leads.NewInMemoryRepository(), &stubController{}, logging.Discard())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminLeadsResumeAndClose(t *testing.T) {
	ctrl := &stubController{}
	h := NewAdminLeadsHandler(seededRepo(t), ctrl, logging.Discard())

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lead-1/resume", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	var resp ActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.To != leads.StateEngaged || resp.Outcome != string(conversation.OutcomeResumed) {
		t.Fatalf("unexpected resume response %#v", resp)
	}

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lead-1/close", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d", rec.Code)
	}
	if len(ctrl.calls) != 2 || ctrl.calls[0] != "resume:lead-1" || ctrl.calls[1] != "close:lead-1" {
		t.Fatalf("unexpected calls %v", ctrl.calls)
	}
}

func TestAdminLeadsActionErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"opted out", &conversation.Error{Kind: conversation.KindValidation, Op: "resume", Err: conversation.ErrLeadOptedOut}, http.StatusConflict},
		{"not found", &conversation.Error{Kind: conversation.KindValidation, Op: "resume", Err: leads.ErrLeadNotFound}, http.StatusNotFound},
		{"busy", &conversation.Error{Kind: conversation.KindTransient, Op: "lock", Err: conversation.ErrLockTimeout}, http.StatusServiceUnavailable},
		{"conflict", &conversation.Error{Kind: conversation.KindPersistenceConflict, Op: "resume", Err: leads.ErrVersionConflict}, http.StatusConflict},
		{"transient", &conversation.Error{Kind: conversation.KindTransient, Op: "save", Err: fmt.Errorf("db down")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAdminLeadsHandler(seededRepo(t), &stubController{err: tc.err}, logging.Discard())
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lead-1/resume", nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
