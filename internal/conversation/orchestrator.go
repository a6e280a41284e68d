// Package conversation runs the per-event pipeline that turns an inbound lead
// message or scheduled trigger into state changes and at most one outbound
// message, and the queue workers that feed it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/lead-reengage/internal/compliance"
	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/messaging"
	"github.com/wolfman30/lead-reengage/internal/nba"
	"github.com/wolfman30/lead-reengage/internal/observability/metrics"
	"github.com/wolfman30/lead-reengage/internal/response"
	"github.com/wolfman30/lead-reengage/internal/statemachine"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

var handleTracer = otel.Tracer("reengage/conversation")

var (
	// ErrDeliveryAbandoned is returned once a pending message was rejected or
	// ran out of attempts and was dropped.
	ErrDeliveryAbandoned = errors.New("conversation: delivery abandoned")
	// ErrLeadOptedOut is returned when a human tries to resume automation
	// for a lead that opted out.
	ErrLeadOptedOut = errors.New("conversation: lead opted out")
)

// Outcome summarizes what Handle did with an event.
type Outcome string

const (
	OutcomeReplied    Outcome = "replied"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeReplayed   Outcome = "replayed"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeAged       Outcome = "aged"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeNoAddress  Outcome = "no_address"
	OutcomeFailed     Outcome = "delivery_failed"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeResumed    Outcome = "resumed"
	OutcomeClosed     Outcome = "closed"
)

// Scheduler stores the next follow-up for a lead. Schedule replaces any
// pending follow-up of the same lead.
type Scheduler interface {
	Schedule(ctx context.Context, leadID string, dueAt time.Time, priority int, reason string) error
	CancelLead(ctx context.Context, leadID string) error
}

// HumanNotifier alerts an agent that a lead needs a person.
type HumanNotifier interface {
	NotifyHuman(ctx context.Context, leadID, reason, lastMessage string) error
}

// Archiver stores the transcript of a conversation that reached a terminal state.
type Archiver interface {
	Archive(ctx context.Context, lc *leads.ConversationContext) error
}

// Result reports the effect of one Handle, ResumeAutomation or Close call.
type Result struct {
	LeadID        string
	CorrelationID string
	Seq           int64
	Outcome       Outcome
	Transition    statemachine.Transition
	Detected      intent.Detected
	Action        nba.Action
	Compliance    compliance.Result
	Response      *response.GeneratedResponse
	Receipt       *messaging.Receipt
	// RetryAt is when a blocked trigger may be attempted again.
	RetryAt time.Time
}

// Delivered reports whether a provider accepted a message for this event.
func (r *Result) Delivered() bool { return r != nil && r.Receipt != nil }

// Deps are the Orchestrator's required collaborators.
type Deps struct {
	Repository leads.Repository
	Detector   *intent.Detector
	Machine    *statemachine.Machine
	Gate       *compliance.Gate
	Planner    *nba.Planner
	Pipeline   *response.Pipeline
	Sender     messaging.Sender
}

// Orchestrator applies inbound events to conversation contexts. Calls for the
// same lead are serialized by the Locker; calls for different leads run in
// parallel.
type Orchestrator struct {
	repo     leads.Repository
	detector *intent.Detector
	machine  *statemachine.Machine
	gate     *compliance.Gate
	planner  *nba.Planner
	pipeline *response.Pipeline
	sender   messaging.Sender

	locker    Locker
	scheduler Scheduler
	notifier  HumanNotifier
	archiver  Archiver
	ledger    events.ProcessedLedger
	metrics   *metrics.EngineMetrics
	logger    *logging.Logger
	events    *EventLogger
	now       func() time.Time

	historyLimit    int
	deliveryTimeout time.Duration
	defaultFollowup time.Duration
	maxAttempts     int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker replaces the in-process KeyedMutex, e.g. with a RedisLocker.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithScheduler wires follow-up scheduling.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithNotifier wires human escalation.
func WithNotifier(n HumanNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithArchiver wires transcript archival for terminal conversations.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithProcessedLedger adds a durable ledger behind the in-document
// processed list.
func WithProcessedLedger(l events.ProcessedLedger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHistoryLimit bounds the history kept in each context.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithDeliveryTimeout bounds each provider call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

// WithDefaultFollowup schedules a follow-up this long after every reply to an
// inbound message. Zero disables it.
func WithDefaultFollowup(d time.Duration) Option {
	return func(o *Orchestrator) { o.defaultFollowup = d }
}

// WithMaxDeliveryAttempts sets how often a pending message is retried before
// it is dropped.
func WithMaxDeliveryAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// NewOrchestrator builds an Orchestrator. Every field of deps is required.
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	switch {
	case deps.Repository == nil:
		panic("conversation: repository cannot be nil")
	case deps.Detector == nil:
		panic("conversation: intent detector cannot be nil")
	case deps.Machine == nil:
		panic("conversation: state machine cannot be nil")
	case deps.Gate == nil:
		panic("conversation: compliance gate cannot be nil")
	case deps.Planner == nil:
		panic("conversation: planner cannot be nil")
	case deps.Pipeline == nil:
		panic("conversation: response pipeline cannot be nil")
	case deps.Sender == nil:
		panic("conversation: sender cannot be nil")
	}
	o := &Orchestrator{
		repo:            deps.Repository,
		detector:        deps.Detector,
		machine:         deps.Machine,
		gate:            deps.Gate,
		planner:         deps.Planner,
		pipeline:        deps.Pipeline,
		sender:          deps.Sender,
		locker:          NewKeyedMutex(),
		logger:          logging.Default(),
		now:             time.Now,
		historyLimit:    50,
		deliveryTimeout: 10 * time.Second,
		maxAttempts:     5,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.events = NewEventLogger(o.logger)
	return o
}

// effects are the side effects of an applied event, run after the context
// was persisted.
type effects struct {
	deliver         bool
	followupAt      time.Time
	followupReason  string
	followupPrio    int
	cancelFollowups bool
	notify          bool
	notifyReason    string
	lastMessage     string
	archive         bool
}

// Handle applies one inbound event. It is idempotent per CorrelationID.
func (o *Orchestrator) Handle(ctx context.Context, evt events.Inbound) (*Result, error) {
	ctx, span := handleTracer.Start(ctx, "conversation.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("reengage.lead_id", evt.LeadID),
		attribute.String("reengage.correlation_id", evt.CorrelationID),
	)

	started := time.Now()
	kind := eventKind(evt)

	if err := evt.Validate(); err != nil {
		o.logger.Warn("invalid inbound event dropped", "lead_id", evt.LeadID, "correlation_id", evt.CorrelationID, "error", err)
		o.auditEvent(ctx, compliance.AuditEvent{
			EventType:     compliance.EventInvalidEvent,
			LeadID:        evt.LeadID,
			CorrelationID: evt.CorrelationID,
			Message:       err.Error(),
		})
		o.metrics.ObserveEvent(kind, "invalid", time.Since(started).Seconds())
		span.SetStatus(codes.Error, "invalid event")
		return nil, newError(KindValidation, "handle", evt.LeadID, err)
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = o.now()
	}
	o.events.EventReceived(ctx, evt.LeadID, evt.CorrelationID, kind, string(evt.Channel), len(evt.Text))

	unlock, err := o.locker.Lock(ctx, evt.LeadID)
	if err != nil {
		o.metrics.ObserveEvent(kind, "lock_failed", time.Since(started).Seconds())
		return nil, newError(KindTransient, "lock", evt.LeadID, err)
	}
	defer unlock()

	var (
		lc  *leads.ConversationContext
		res *Result
		eff effects
	)
	for attempt := 0; ; attempt++ {
		lc, res, eff, err = o.apply(ctx, evt)
		if err == nil || !errors.Is(err, leads.ErrVersionConflict) || attempt > 0 {
			break
		}
		o.metrics.ObserveConflict()
		o.logger.Warn("version conflict, re-reading context", "lead_id", evt.LeadID, "correlation_id", evt.CorrelationID)
	}
	if err != nil {
		if errors.Is(err, leads.ErrVersionConflict) {
			o.metrics.ObserveConflict()
			err = newError(KindPersistenceConflict, "save", evt.LeadID, err)
		}
		o.metrics.ObserveEvent(kind, "error", time.Since(started).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle failed")
		return nil, asError("handle", evt.LeadID, err)
	}

	if err := o.dispatch(ctx, lc, res, eff); err != nil {
		o.metrics.ObserveEvent(kind, string(res.Outcome), time.Since(started).Seconds())
		span.RecordError(err)
		return res, err
	}

	o.metrics.ObserveEvent(kind, string(res.Outcome), time.Since(started).Seconds())
	span.SetAttributes(attribute.String("conversation.outcome", string(res.Outcome)))
	return res, nil
}

// apply loads the context, runs the decision pipeline and persists the
// result. It performs no external side effects other than audit records.
func (o *Orchestrator) apply(ctx context.Context, evt events.Inbound) (*leads.ConversationContext, *Result, effects, error) {
	var eff effects
	now := evt.ReceivedAt
	res := &Result{LeadID: evt.LeadID, CorrelationID: evt.CorrelationID}

	lc, err := o.repo.Load(ctx, evt.LeadID)
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		if evt.IsTrigger() && evt.Trigger != events.TriggerReengage {
			res.Outcome = OutcomeIgnored
			return nil, res, eff, nil
		}
		lc = leads.NewContext(evt.LeadID, now)
	case err != nil:
		return nil, nil, eff, newError(KindTransient, "load", evt.LeadID, err)
	}
	expected := lc.Version
	mergeProfile(&lc.Profile, evt.Profile)

	if p, ok := lc.ProcessedEvent(evt.CorrelationID); ok {
		res.Seq = p.Seq
		res.Outcome = OutcomeReplayed
		res.Transition = statemachine.Transition{From: lc.State, To: lc.State}
		if lc.Pending != nil && lc.Pending.CorrelationID == evt.CorrelationID {
			o.logger.Info("replay retries pending delivery", "lead_id", lc.LeadID, "correlation_id", evt.CorrelationID, "attempts", lc.Pending.Attempts)
			eff.deliver = true
		}
		return lc, res, eff, nil
	}
	if o.ledger != nil {
		done, err := o.ledger.AlreadyProcessed(ctx, evt.LeadID, evt.CorrelationID)
		if err != nil {
			o.logger.Warn("processed ledger lookup failed", "lead_id", evt.LeadID, "error", err)
		} else if done {
			res.Outcome = OutcomeReplayed
			res.Transition = statemachine.Transition{From: lc.State, To: lc.State}
			return lc, res, eff, nil
		}
	}

	if lc.Pending != nil {
		o.logger.Warn("dropping undelivered message superseded by a newer event",
			"lead_id", lc.LeadID,
			"pending_correlation_id", lc.Pending.CorrelationID,
			"attempts", lc.Pending.Attempts,
		)
		lc.Pending = nil
	}

	lc.Seq++
	res.Seq = lc.Seq
	from := lc.State

	aged := o.machine.Apply(lc, statemachine.Trigger{Kind: statemachine.TriggerInactivity, Now: now})
	steps := aged.Steps

	if evt.Trigger == events.TriggerDormancyCheck {
		res.Outcome = OutcomeAged
		res.Transition = statemachine.Transition{From: from, To: lc.State, Steps: steps}
		o.afterTransition(ctx, lc, res, &eff)
		return lc, res, eff, o.persist(ctx, lc, res, expected, now)
	}

	if !evt.IsTrigger() {
		lc.AppendHistory(leads.HistoryEntry{
			Direction:     leads.Inbound,
			Channel:       evt.Channel,
			Text:          evt.Text,
			At:            now,
			CorrelationID: evt.CorrelationID,
		}, o.historyLimit)
		lc.LastInboundAt = now
	}

	gate := o.gate.Check(ctx, lc, now)
	res.Compliance = gate
	if !gate.Allowed() {
		o.metrics.ObserveBlocked(string(gate.Reason))
		o.events.ComplianceBlocked(ctx, lc.LeadID, evt.CorrelationID, lc.Seq, string(gate.Reason), gate.RetryAt)
		if err := o.gate.Audit(ctx, lc.LeadID, evt.CorrelationID, gate); err != nil {
			o.logger.Warn("failed to audit blocked send", "lead_id", lc.LeadID, "error", err)
		}

		if !evt.IsTrigger() {
			det := o.detect(ctx, lc, evt, now)
			res.Detected = det
			if det.IsOptOut() {
				tr := o.machine.Apply(lc, statemachine.Trigger{Kind: statemachine.TriggerInbound, Intent: det.Intent, Now: now})
				steps = append(steps, tr.Steps...)
			} else if gate.Reason == compliance.ReasonQuietHours && !gate.RetryAt.IsZero() {
				eff.followupAt = gate.RetryAt
				eff.followupPrio = nba.ReplyNow.Priority()
				eff.followupReason = "reply deferred by quiet hours"
			}
		}
		res.Outcome = OutcomeBlocked
		res.RetryAt = gate.RetryAt
		res.Transition = statemachine.Transition{From: from, To: lc.State, Steps: steps}
		res.Action = nba.Action{Kind: nba.Suppress, Reason: "compliance: " + string(gate.Reason)}
		o.afterTransition(ctx, lc, res, &eff)
		return lc, res, eff, o.persist(ctx, lc, res, expected, now)
	}

	var action nba.Action
	if evt.IsTrigger() {
		tr := o.machine.Apply(lc, statemachine.Trigger{Kind: statemachine.TriggerScheduled, Now: now})
		steps = append(steps, tr.Steps...)
		action = o.planner.PlanTrigger(lc, evt.Trigger)
	} else {
		det := o.detect(ctx, lc, evt, now)
		res.Detected = det
		var changed []string
		if det.Entities.HasQualificationData() {
			changed = lc.Qualification.Merge(det.Entities, leads.MergeOptions{
				Correction:      det.Entities.Correction,
				DatesAsTimeline: det.Intent != intent.ShowingRequest && det.Intent != intent.DeferredFollowup,
			})
		}
		lc.AwaitingAnswer = false
		tr := o.machine.Apply(lc, statemachine.Trigger{
			Kind:                 statemachine.TriggerInbound,
			Intent:               det.Intent,
			QualificationChanged: len(changed) > 0,
			Now:                  now,
		})
		steps = append(steps, tr.Steps...)
		action = o.planner.Plan(lc, det, now)
	}
	res.Transition = statemachine.Transition{From: from, To: lc.State, Steps: steps}
	res.Action = action
	o.metrics.ObserveAction(string(action.Kind))
	o.events.ActionPlanned(ctx, lc.LeadID, evt.CorrelationID, lc.Seq, string(action.Kind), string(action.Goal), action.Reason)
	o.afterTransition(ctx, lc, res, &eff)

	switch action.Kind {
	case nba.Escalate:
		eff.notify = true
		eff.notifyReason = action.Reason
		eff.lastMessage = evt.Text
		eff.cancelFollowups = true
	case nba.ScheduleFollowup:
		eff.followupAt = action.DueAt
		eff.followupPrio = action.Priority
		eff.followupReason = action.Reason
	}

	res.Outcome = OutcomeSuppressed
	if action.Kind.Acts() {
		gr := o.pipeline.Generate(ctx, lc, action, res.Detected)
		res.Response = &gr
		o.metrics.ObserveResponse(string(gr.Source), gr.Latency.Seconds())
		if gr.Source == response.SourceFallback {
			o.auditEvent(ctx, compliance.AuditEvent{
				EventType:     compliance.EventFallbackUsed,
				LeadID:        lc.LeadID,
				CorrelationID: evt.CorrelationID,
				Reason:        string(fallbackKind(gr.FallbackReason)),
				Details:       compliance.MarshalDetails(compliance.AuditDetails{GenerationError: errString(gr.FallbackReason)}),
			})
		}
		if gr.Error == nil && strings.TrimSpace(gr.Text) != "" {
			to := lc.Profile.Address(gr.Channel)
			if to == "" {
				o.logger.Warn("no address for reply channel, message not sent", "lead_id", lc.LeadID, "channel", string(gr.Channel))
				res.Outcome = OutcomeNoAddress
			} else {
				lc.Pending = &leads.PendingDelivery{
					CorrelationID:  evt.CorrelationID,
					Seq:            lc.Seq,
					Channel:        gr.Channel,
					To:             to,
					Text:           gr.Text,
					IdempotencyKey: IdempotencyKey(evt.CorrelationID, lc.Seq),
					CreatedAt:      now,
				}
				res.Outcome = OutcomeReplied
				eff.deliver = true
				if action.Kind == nba.ReplyNow && o.defaultFollowup > 0 && !evt.IsTrigger() {
					eff.followupAt = now.Add(o.defaultFollowup)
					eff.followupPrio = nba.ScheduleFollowup.Priority()
					eff.followupReason = "no reply to last message"
				}
			}
		}
	}

	return lc, res, eff, o.persist(ctx, lc, res, expected, now)
}

// afterTransition records state changes and derives the side effects owned
// by the new state.
func (o *Orchestrator) afterTransition(ctx context.Context, lc *leads.ConversationContext, res *Result, eff *effects) {
	tr := res.Transition
	for _, step := range tr.Steps {
		o.metrics.ObserveTransition(string(step.From), string(step.To))
	}
	if !tr.Changed() {
		return
	}
	o.events.StateTransition(ctx, lc.LeadID, res.CorrelationID, res.Seq, string(tr.From), string(tr.To), len(tr.Steps))

	details := compliance.MarshalDetails(compliance.AuditDetails{FromState: string(tr.From), ToState: string(tr.To)})
	switch lc.State {
	case leads.StateOptedOut:
		o.auditEvent(ctx, compliance.AuditEvent{
			EventType:     compliance.EventOptOut,
			LeadID:        lc.LeadID,
			CorrelationID: res.CorrelationID,
			Details:       details,
		})
		eff.cancelFollowups = true
		eff.followupAt = time.Time{}
	case leads.StateHandoff:
		o.auditEvent(ctx, compliance.AuditEvent{
			EventType:     compliance.EventHandoff,
			LeadID:        lc.LeadID,
			CorrelationID: res.CorrelationID,
			Details:       details,
		})
		eff.cancelFollowups = true
	case leads.StateClosed:
		eff.cancelFollowups = true
	}
	eff.archive = lc.State.Terminal()
}

func (o *Orchestrator) detect(ctx context.Context, lc *leads.ConversationContext, evt events.Inbound, now time.Time) intent.Detected {
	det := o.detector.Detect(ctx, evt.Text, intent.Hint{
		State:          string(lc.State),
		AwaitingAnswer: lc.AwaitingAnswer,
		Now:            now,
	})
	if n := len(lc.History); n > 0 && lc.History[n-1].CorrelationID == evt.CorrelationID {
		lc.History[n-1].Intent = string(det.Intent)
	}
	var ents map[string]any
	if !det.Entities.Empty() {
		ents = det.Entities.AsMap()
	}
	o.events.IntentDetected(ctx, lc.LeadID, evt.CorrelationID, lc.Seq, string(det.Intent), det.Confidence, det.Matched, ents)
	return det
}

func (o *Orchestrator) persist(ctx context.Context, lc *leads.ConversationContext, res *Result, expected int64, now time.Time) error {
	lc.MarkProcessed(res.CorrelationID, res.Seq, now, string(res.Outcome))
	lc.UpdatedAt = now
	if err := o.repo.Save(ctx, lc, expected); err != nil {
		if errors.Is(err, leads.ErrVersionConflict) {
			return err
		}
		return newError(KindTransient, "save", lc.LeadID, err)
	}
	return nil
}

// dispatch runs the side effects of a persisted event.
func (o *Orchestrator) dispatch(ctx context.Context, lc *leads.ConversationContext, res *Result, eff effects) error {
	if lc == nil {
		return nil
	}
	if o.scheduler != nil {
		switch {
		case eff.cancelFollowups:
			if err := o.scheduler.CancelLead(ctx, lc.LeadID); err != nil {
				o.logger.Warn("failed to cancel follow-ups", "lead_id", lc.LeadID, "error", err)
			}
		case !eff.followupAt.IsZero():
			if err := o.scheduler.Schedule(ctx, lc.LeadID, eff.followupAt, eff.followupPrio, eff.followupReason); err != nil {
				o.logger.Warn("failed to schedule follow-up", "lead_id", lc.LeadID, "due_at", eff.followupAt, "error", err)
			}
		}
	}
	if eff.notify && o.notifier != nil {
		if err := o.notifier.NotifyHuman(ctx, lc.LeadID, eff.notifyReason, eff.lastMessage); err != nil {
			o.logger.Error("failed to notify agent", "lead_id", lc.LeadID, "error", err)
		}
	}
	if eff.archive && o.archiver != nil {
		if err := o.archiver.Archive(ctx, lc); err != nil {
			o.logger.Warn("failed to archive conversation", "lead_id", lc.LeadID, "error", err)
		}
	}

	if eff.deliver && lc.Pending != nil {
		if err := o.deliver(ctx, lc, res); err != nil {
			return err
		}
	}
	if lc.Pending == nil && res.Outcome != OutcomeReplayed {
		o.markLedger(ctx, lc.LeadID, res)
	}
	return nil
}

// deliver sends lc.Pending and persists the acknowledgement. The lock is held.
func (o *Orchestrator) deliver(ctx context.Context, lc *leads.ConversationContext, res *Result) error {
	p := lc.Pending
	sendCtx, cancel := context.WithTimeout(ctx, o.deliveryTimeout)
	receipt, err := o.sender.Send(sendCtx, messaging.Delivery{
		LeadID:         lc.LeadID,
		Channel:        p.Channel,
		To:             p.To,
		Text:           p.Text,
		IdempotencyKey: p.IdempotencyKey,
	})
	cancel()
	now := o.now()

	if err != nil {
		o.metrics.ObserveDelivery(string(p.Channel), "failed")
		p.Attempts++
		permanent := errors.Is(err, messaging.ErrRejected) || errors.Is(err, messaging.ErrInvalidDelivery) ||
			errors.Is(err, messaging.ErrUnsupportedChannel)
		if permanent || p.Attempts >= o.maxAttempts {
			o.logger.Error("abandoning undeliverable message",
				"lead_id", lc.LeadID,
				"idempotency_key", p.IdempotencyKey,
				"attempts", p.Attempts,
				"error", err,
			)
			lc.Pending = nil
			err = errors.Join(ErrDeliveryAbandoned, err)
		} else {
			o.logger.Warn("delivery failed, will retry on redelivery",
				"lead_id", lc.LeadID,
				"idempotency_key", p.IdempotencyKey,
				"attempts", p.Attempts,
				"error", err,
			)
		}
		if res.Outcome == OutcomeReplied {
			res.Outcome = OutcomeFailed
		}
		if saveErr := o.repo.Save(ctx, lc, lc.Version); saveErr != nil {
			o.logger.Warn("failed to persist delivery attempt", "lead_id", lc.LeadID, "error", saveErr)
		}
		return newError(KindDeliveryFailure, "deliver", lc.LeadID, err)
	}

	status := "sent"
	if receipt.Duplicate {
		status = "duplicate"
	}
	o.metrics.ObserveDelivery(string(p.Channel), status)
	res.Receipt = &receipt
	if res.Outcome == OutcomeReplayed {
		res.Outcome = OutcomeReplied
	}

	lc.Pending = nil
	lc.AppendHistory(leads.HistoryEntry{
		Direction:     leads.Outbound,
		Channel:       p.Channel,
		Text:          p.Text,
		At:            now,
		CorrelationID: p.CorrelationID,
	}, o.historyLimit)
	lc.RecordSend(now, o.gate.Policy().Lookback)
	lc.AwaitingAnswer = strings.Contains(p.Text, "?")
	lc.UpdatedAt = now
	if err := o.gate.RecordSend(ctx, lc.LeadID, p.IdempotencyKey, now); err != nil {
		o.logger.Warn("failed to record send with counter", "lead_id", lc.LeadID, "error", err)
	}

	source := ""
	if res.Response != nil {
		source = string(res.Response.Source)
	}
	o.events.ReplySent(ctx, lc.LeadID, p.CorrelationID, p.Seq, string(p.Channel), source, len(p.Text), receipt.Duplicate)

	if err := o.repo.Save(ctx, lc, lc.Version); err != nil {
		return newError(KindTransient, "ack", lc.LeadID, err)
	}
	return nil
}

func (o *Orchestrator) markLedger(ctx context.Context, leadID string, res *Result) {
	if o.ledger == nil || res.CorrelationID == "" {
		return
	}
	if _, err := o.ledger.MarkProcessed(ctx, leadID, res.CorrelationID, string(res.Outcome)); err != nil {
		o.logger.Warn("failed to record processed event", "lead_id", leadID, "correlation_id", res.CorrelationID, "error", err)
	}
}

// ResumeAutomation hands a conversation back to automation after a human
// took it over.
func (o *Orchestrator) ResumeAutomation(ctx context.Context, leadID string) (*Result, error) {
	return o.humanAction(ctx, "resume", OutcomeResumed, leadID, func(lc *leads.ConversationContext, now time.Time) (statemachine.Transition, bool, error) {
		if lc.OptedOut || lc.State == leads.StateOptedOut {
			return statemachine.Transition{}, false, ErrLeadOptedOut
		}
		if !lc.HandoffPending && lc.AIEnabled && lc.State != leads.StateHandoff {
			return statemachine.Transition{From: lc.State, To: lc.State}, false, nil
		}
		lc.HandoffPending = false
		lc.AIEnabled = true
		lc.ConsecutiveObjections = 0
		tr := o.machine.Apply(lc, statemachine.Trigger{Kind: statemachine.TriggerResume, Now: now})
		return tr, true, nil
	})
}

// Close ends a handed-off conversation. Other states are left unchanged.
func (o *Orchestrator) Close(ctx context.Context, leadID string) (*Result, error) {
	return o.humanAction(ctx, "close", OutcomeClosed, leadID, func(lc *leads.ConversationContext, now time.Time) (statemachine.Transition, bool, error) {
		tr := o.machine.Apply(lc, statemachine.Trigger{Kind: statemachine.TriggerClose, Now: now})
		return tr, tr.Changed(), nil
	})
}

type humanChange func(lc *leads.ConversationContext, now time.Time) (statemachine.Transition, bool, error)

func (o *Orchestrator) humanAction(ctx context.Context, op string, outcome Outcome, leadID string, change humanChange) (*Result, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, newError(KindValidation, op, leadID, leads.ErrMissingLeadID)
	}
	unlock, err := o.locker.Lock(ctx, leadID)
	if err != nil {
		return nil, newError(KindTransient, "lock", leadID, err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		lc, err := o.repo.Load(ctx, leadID)
		if errors.Is(err, leads.ErrLeadNotFound) {
			return nil, newError(KindValidation, op, leadID, err)
		}
		if err != nil {
			return nil, newError(KindTransient, "load", leadID, err)
		}
		now := o.now()
		expected := lc.Version
		tr, changed, err := change(lc, now)
		if err != nil {
			return nil, newError(KindValidation, op, leadID, err)
		}
		res := &Result{LeadID: leadID, Seq: lc.Seq, Transition: tr, Outcome: OutcomeUnchanged}
		if !changed {
			return res, nil
		}
		lc.UpdatedAt = now
		if err := o.repo.Save(ctx, lc, expected); err != nil {
			if errors.Is(err, leads.ErrVersionConflict) && attempt == 0 {
				o.metrics.ObserveConflict()
				continue
			}
			if errors.Is(err, leads.ErrVersionConflict) {
				return nil, newError(KindPersistenceConflict, op, leadID, err)
			}
			return nil, newError(KindTransient, "save", leadID, err)
		}

		res.Outcome = outcome
		var eff effects
		o.afterTransition(ctx, lc, res, &eff)
		if outcome == OutcomeResumed {
			o.auditEvent(ctx, compliance.AuditEvent{
				EventType: compliance.EventAutomationResumed,
				LeadID:    leadID,
				Details:   compliance.MarshalDetails(compliance.AuditDetails{FromState: string(tr.From), ToState: string(tr.To)}),
			})
		}
		if err := o.dispatch(ctx, lc, res, eff); err != nil {
			return res, err
		}
		o.logger.Info("conversation updated by agent", "lead_id", leadID, "op", op, "from", string(tr.From), "to", string(tr.To))
		return res, nil
	}
}

func (o *Orchestrator) auditEvent(ctx context.Context, evt compliance.AuditEvent) {
	if err := o.gate.Auditor().LogEvent(ctx, evt); err != nil {
		o.logger.Warn("failed to write audit event", "event_type", string(evt.EventType), "lead_id", evt.LeadID, "error", err)
	}
}

// IdempotencyKey derives the delivery key for an event's outbound message.
func IdempotencyKey(correlationID string, seq int64) string {
	return fmt.Sprintf("%s:%d", correlationID, seq)
}

func eventKind(evt events.Inbound) string {
	if evt.IsTrigger() {
		return string(evt.Trigger)
	}
	return "message"
}

// mergeProfile fills empty profile fields from hints. Known values win.
func mergeProfile(p *leads.Profile, hint *leads.Profile) {
	if hint == nil {
		return
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = strings.TrimSpace(src)
		}
	}
	fill(&p.Name, hint.Name)
	fill(&p.Phone, hint.Phone)
	fill(&p.Email, hint.Email)
	fill(&p.Source, hint.Source)
	fill(&p.PropertyInterest, hint.PropertyInterest)
	if p.PreferredChannel == "" && hint.PreferredChannel.Valid() {
		p.PreferredChannel = hint.PreferredChannel
	}
}

func fallbackKind(err error) Kind {
	switch {
	case errors.Is(err, response.ErrGenerationTimeout):
		return KindGenerationTimeout
	case errors.Is(err, response.ErrGenerationInvalid):
		return KindGenerationInvalid
	}
	return KindTransient
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func asError(op, leadID string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return newError(KindOf(err), op, leadID, err)
}
