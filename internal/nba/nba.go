// Package nba decides the next best action for a conversation after a
// message or scheduled trigger has been applied to it.
package nba

import (
	"time"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
)

// Kind is the action type.
type Kind string

const (
	ReplyNow         Kind = "REPLY_NOW"
	ScheduleFollowup Kind = "SCHEDULE_FOLLOWUP"
	Escalate         Kind = "ESCALATE"
	Suppress         Kind = "SUPPRESS"
)

// Priority orders due actions for a dispatcher; higher first.
func (k Kind) Priority() int {
	switch k {
	case Escalate:
		return 100
	case ReplyNow:
		return 50
	case ScheduleFollowup:
		return 20
	}
	return 0
}

// Acts reports whether the action produces an outbound message or side effect.
func (k Kind) Acts() bool { return k != Suppress }

// Goal tells the response pipeline what a reply should accomplish.
type Goal string

const (
	GoalNone             Goal = ""
	GoalQualify          Goal = "qualify"
	GoalProposeShowing   Goal = "propose_showing"
	GoalScheduleShowing  Goal = "schedule_showing"
	GoalAnswerPrice      Goal = "answer_price"
	GoalAddressObjection Goal = "address_objection"
	GoalAskFollowupTime  Goal = "ask_followup_time"
	GoalConfirmFollowup  Goal = "confirm_followup"
	GoalHandoff          Goal = "handoff"
	GoalFollowUp         Goal = "follow_up"
	GoalReengage         Goal = "reengage"
	GoalAcknowledge      Goal = "acknowledge"
)

// Action is the planner's decision.
type Action struct {
	Kind     Kind      `json:"kind"`
	Priority int       `json:"priority"`
	DueAt    time.Time `json:"due_at,omitempty"`
	Goal     Goal      `json:"goal,omitempty"`
	// AskField names the qualification field a qualifying reply should ask for.
	AskField string `json:"ask_field,omitempty"`
	Reason   string `json:"reason"`
}

func newAction(kind Kind, goal Goal, reason string) Action {
	return Action{Kind: kind, Priority: kind.Priority(), Goal: goal, Reason: reason}
}

// Policy holds planner tunables.
type Policy struct {
	ObjectionLimit int
	RequiredFields []string
}

// Planner maps context plus intent to an Action. It is pure.
type Planner struct {
	policy Policy
}

// NewPlanner builds a planner; zero fields take defaults.
func NewPlanner(policy Policy) *Planner {
	if policy.ObjectionLimit <= 0 {
		policy.ObjectionLimit = 3
	}
	if policy.RequiredFields == nil {
		policy.RequiredFields = []string{leads.FieldBudget, leads.FieldTimeline, leads.FieldFinancing}
	}
	return &Planner{policy: policy}
}

// Plan decides what to do after an inbound message. lc must already reflect
// the state transition and qualification merge for det.
func (p *Planner) Plan(lc *leads.ConversationContext, det intent.Detected, now time.Time) Action {
	switch {
	case det.Intent == intent.OptOut || lc.OptedOut:
		return newAction(Suppress, GoalNone, "lead opted out")
	case lc.State.Terminal():
		return newAction(Suppress, GoalNone, "conversation is closed")
	case det.Intent == intent.AgentRequest:
		return newAction(Escalate, GoalHandoff, "lead asked for an agent")
	case lc.ConsecutiveObjections >= p.policy.ObjectionLimit:
		return newAction(Escalate, GoalHandoff, "repeated objections")
	}

	if det.Intent == intent.DeferredFollowup {
		if due, ok := det.Entities.FirstFutureDate(now); ok {
			a := newAction(ScheduleFollowup, GoalConfirmFollowup, "lead asked to be contacted later")
			a.DueAt = due
			return a
		}
		return newAction(ReplyNow, GoalAskFollowupTime, "deferral without a date")
	}

	a := newAction(ReplyNow, GoalNone, "reply to inbound message")
	switch det.Intent {
	case intent.ShowingRequest:
		a.Goal = GoalScheduleShowing
	case intent.PriceQuestion:
		a.Goal = GoalAnswerPrice
	case intent.Objection:
		a.Goal = GoalAddressObjection
	default:
		a.Goal, a.AskField = p.progressGoal(lc)
	}
	return a
}

// PlanTrigger decides what to do for a scheduled trigger.
func (p *Planner) PlanTrigger(lc *leads.ConversationContext, trigger events.TriggerType) Action {
	if lc.OptedOut || lc.State.Terminal() {
		return newAction(Suppress, GoalNone, "conversation is closed")
	}
	if lc.State == leads.StateHandoff || lc.HandoffPending {
		return newAction(Suppress, GoalNone, "human owns the conversation")
	}

	switch trigger {
	case events.TriggerFollowupDue:
		a := newAction(ReplyNow, GoalFollowUp, "scheduled follow-up due")
		_, a.AskField = p.progressGoal(lc)
		return a
	case events.TriggerReengage:
		if lc.State == leads.StateNew || lc.State == leads.StateDormant {
			return newAction(ReplyNow, GoalReengage, "re-engagement touch")
		}
		return newAction(Suppress, GoalNone, "lead is already active")
	}
	return newAction(Suppress, GoalNone, "trigger does not send")
}

func (p *Planner) progressGoal(lc *leads.ConversationContext) (Goal, string) {
	if missing := lc.Qualification.Missing(p.policy.RequiredFields); len(missing) > 0 {
		return GoalQualify, missing[0]
	}
	if lc.State == leads.StateQualified {
		return GoalProposeShowing, ""
	}
	return GoalAcknowledge, ""
}
