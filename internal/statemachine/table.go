package statemachine

import (
	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
)

type edge struct {
	from   func(leads.State) bool
	when   func(*leads.ConversationContext, Trigger) bool
	to     leads.State
	reason string
}

func anyState(leads.State) bool { return true }

func nonTerminal(s leads.State) bool { return !s.Terminal() }

func oneOf(states ...leads.State) func(leads.State) bool {
	return func(s leads.State) bool {
		for _, candidate := range states {
			if s == candidate {
				return true
			}
		}
		return false
	}
}

func inbound(trig Trigger) bool { return trig.Kind == TriggerInbound }

// engagingIntents pull a nurtured lead back into qualification.
var engagingIntents = map[intent.Intent]bool{
	intent.ShowingRequest: true,
	intent.PriceQuestion:  true,
	intent.Affirmation:    true,
}

// buildTable lists edges in priority order; the first edge whose source and
// condition match wins.
func (m *Machine) buildTable() []edge {
	return []edge{
		{
			from:   anyState,
			when:   func(_ *leads.ConversationContext, t Trigger) bool { return inbound(t) && t.Intent == intent.OptOut },
			to:     leads.StateOptedOut,
			reason: "opt-out requested",
		},
		{
			from: oneOf(leads.StateNew, leads.StateEngaged, leads.StateQualifying, leads.StateQualified, leads.StateNurturing, leads.StateHandoff),
			when: func(lc *leads.ConversationContext, t Trigger) bool {
				return t.Kind == TriggerInactivity && m.IsDormant(lc, t.Now)
			},
			to:     leads.StateDormant,
			reason: "inactive beyond dormancy window",
		},
		{
			from:   oneOf(leads.StateHandoff),
			when:   func(_ *leads.ConversationContext, t Trigger) bool { return t.Kind == TriggerClose },
			to:     leads.StateClosed,
			reason: "closed by agent",
		},
		{
			from:   oneOf(leads.StateHandoff),
			when:   func(_ *leads.ConversationContext, t Trigger) bool { return t.Kind == TriggerResume },
			to:     leads.StateEngaged,
			reason: "agent resumed automation",
		},
		{
			from: oneOf(leads.StateNew),
			when: func(_ *leads.ConversationContext, t Trigger) bool { return inbound(t) },
			to:   leads.StateEngaged, reason: "first inbound message",
		},
		{
			from: oneOf(leads.StateDormant),
			when: func(_ *leads.ConversationContext, t Trigger) bool { return inbound(t) },
			to:   leads.StateEngaged, reason: "dormant lead replied",
		},
		{
			from: oneOf(leads.StateEngaged, leads.StateQualifying, leads.StateQualified, leads.StateNurturing),
			when: func(lc *leads.ConversationContext, t Trigger) bool {
				return inbound(t) && (t.Intent == intent.AgentRequest || lc.ConsecutiveObjections >= m.rules.ObjectionLimit)
			},
			to:     leads.StateHandoff,
			reason: "human requested or objections repeated",
		},
		{
			from: oneOf(leads.StateEngaged, leads.StateQualifying, leads.StateQualified),
			when: func(_ *leads.ConversationContext, t Trigger) bool {
				return inbound(t) && t.Intent == intent.DeferredFollowup
			},
			to:     leads.StateNurturing,
			reason: "lead deferred",
		},
		{
			from:   oneOf(leads.StateEngaged),
			when:   func(_ *leads.ConversationContext, t Trigger) bool { return inbound(t) && t.QualificationChanged },
			to:     leads.StateQualifying,
			reason: "qualifying question answered",
		},
		{
			from: oneOf(leads.StateQualifying),
			when: func(lc *leads.ConversationContext, t Trigger) bool {
				return t.Kind != TriggerClose && lc.Qualification.Complete(m.rules.RequiredFields)
			},
			to:     leads.StateQualified,
			reason: "all required fields present",
		},
		{
			from: oneOf(leads.StateNurturing),
			when: func(_ *leads.ConversationContext, t Trigger) bool {
				return inbound(t) && t.Intent != intent.DeferredFollowup && (t.QualificationChanged || engagingIntents[t.Intent])
			},
			to:     leads.StateQualifying,
			reason: "nurtured lead re-engaged",
		},
	}
}
