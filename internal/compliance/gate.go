// Package compliance decides whether an automated message may be sent to a
// lead right now, and keeps the audit trail for every refusal.
package compliance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

var gateTracer = otel.Tracer("reengage/compliance")

// Reason is the gate verdict.
type Reason string

const (
	ReasonOK          Reason = "OK"
	ReasonOptedOut    Reason = "OPTED_OUT"
	ReasonManualPause Reason = "MANUAL_PAUSE"
	ReasonQuietHours  Reason = "QUIET_HOURS"
	ReasonRateLimited Reason = "RATE_LIMITED"
)

// Result is the outcome of Check.
type Result struct {
	Reason Reason
	// RetryAt is set for QUIET_HOURS (window reopens) and RATE_LIMITED (oldest
	// counted send leaves the lookback).
	RetryAt       time.Time
	SendsInWindow int
}

// Allowed reports whether sending may proceed.
func (r Result) Allowed() bool { return r.Reason == ReasonOK }

// Policy holds the gate's tunables.
type Policy struct {
	Window   SendWindow
	RateCap  int
	Lookback time.Duration
}

// Gate evaluates compliance rules in a fixed order; the first failing rule
// wins: opted out, manual pause, send window, rate limit.
type Gate struct {
	policy  Policy
	counter SendCounter
	auditor Auditor
	logger  *logging.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithSendCounter counts sends from an external store instead of the
// context's own send log.
func WithSendCounter(c SendCounter) GateOption {
	return func(g *Gate) { g.counter = c }
}

// WithAuditor sets where blocked results are recorded.
func WithAuditor(a Auditor) GateOption {
	return func(g *Gate) {
		if a != nil {
			g.auditor = a
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(l *logging.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate builds a gate. A zero Window is always open; a RateCap <= 0
// disables rate limiting.
func NewGate(policy Policy, opts ...GateOption) *Gate {
	if policy.Window.location == nil {
		policy.Window = AlwaysOpen()
	}
	if policy.Lookback <= 0 {
		policy.Lookback = 24 * time.Hour
	}
	g := &Gate{policy: policy, logger: logging.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.auditor == nil {
		g.auditor = NewLogAuditor(g.logger)
	}
	return g
}

// Policy returns the active policy.
func (g *Gate) Policy() Policy { return g.policy }

// Check evaluates lc at now. It never mutates lc.
func (g *Gate) Check(ctx context.Context, lc *leads.ConversationContext, now time.Time) Result {
	ctx, span := gateTracer.Start(ctx, "compliance.check")
	defer span.End()
	span.SetAttributes(attribute.String("reengage.lead_id", lc.LeadID))

	res := g.check(ctx, lc, now)
	span.SetAttributes(attribute.String("compliance.reason", string(res.Reason)))
	return res
}

func (g *Gate) check(ctx context.Context, lc *leads.ConversationContext, now time.Time) Result {
	if !lc.CanSendAutomated() {
		if lc.OptedOut || lc.State == leads.StateOptedOut {
			return Result{Reason: ReasonOptedOut}
		}
		return Result{Reason: ReasonManualPause}
	}
	if !g.policy.Window.Open(now) {
		return Result{Reason: ReasonQuietHours, RetryAt: g.policy.Window.NextOpen(now)}
	}
	if g.policy.RateCap <= 0 {
		return Result{Reason: ReasonOK}
	}

	since := now.Add(-g.policy.Lookback)
	sends := lc.SendsSince(since)
	if g.counter != nil {
		n, err := g.counter.CountSince(ctx, lc.LeadID, since)
		if err != nil {
			g.logger.Warn("send counter unavailable, using context send log", "error", err, "lead_id", lc.LeadID)
		} else if n > sends {
			sends = n
		}
	}
	if sends >= g.policy.RateCap {
		return Result{Reason: ReasonRateLimited, SendsInWindow: sends, RetryAt: g.rateRetryAt(lc, since)}
	}
	return Result{Reason: ReasonOK, SendsInWindow: sends}
}

func (g *Gate) rateRetryAt(lc *leads.ConversationContext, since time.Time) time.Time {
	var oldest time.Time
	for _, at := range lc.RecentSends {
		if at.Before(since) {
			continue
		}
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	if oldest.IsZero() {
		return time.Time{}
	}
	return oldest.Add(g.policy.Lookback)
}

// RecordSend registers a delivered automated message with the external
// counter, if any. key should be the delivery idempotency key.
func (g *Gate) RecordSend(ctx context.Context, leadID, key string, at time.Time) error {
	if g.counter == nil {
		return nil
	}
	return g.counter.Record(ctx, leadID, key, at)
}

// Audit records a blocked result. OK results are ignored.
func (g *Gate) Audit(ctx context.Context, leadID, correlationID string, res Result) error {
	if res.Allowed() {
		return nil
	}
	details := AuditDetails{SendsInWindow: res.SendsInWindow}
	if !res.RetryAt.IsZero() {
		retry := res.RetryAt
		details.RetryAt = &retry
	}
	return g.auditor.LogEvent(ctx, AuditEvent{
		EventType:     EventSendBlocked,
		LeadID:        leadID,
		CorrelationID: correlationID,
		Reason:        string(res.Reason),
		Details:       MarshalDetails(details),
	})
}

// Auditor exposes the configured audit sink for non-gate events.
func (g *Gate) Auditor() Auditor { return g.auditor }
