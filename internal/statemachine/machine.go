// Package statemachine owns conversation state transitions.
//
// Transitions are table driven. Apply evaluates the first matching rule for the
// current state, then re-evaluates from the new state so that one message can
// move a lead several steps (NEW -> ENGAGED -> QUALIFYING -> QUALIFIED). A
// chain stops when no rule matches, when a state would be revisited, or after
// MaxSteps. Unmatched state/trigger pairs leave the state unchanged.
package statemachine

import (
	"time"

	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
)

// TriggerKind says what caused Apply to run.
type TriggerKind string

const (
	// TriggerInbound is a message from the lead.
	TriggerInbound TriggerKind = "inbound"
	// TriggerInactivity asks whether the lead has gone dormant.
	TriggerInactivity TriggerKind = "inactivity"
	// TriggerScheduled is a due follow-up or campaign touch.
	TriggerScheduled TriggerKind = "scheduled"
	// TriggerClose is an explicit human close of a handed-off conversation.
	TriggerClose TriggerKind = "close"
	// TriggerResume is a human handing a conversation back to automation.
	TriggerResume TriggerKind = "resume"
)

// Trigger is the input to one Apply call.
type Trigger struct {
	Kind   TriggerKind
	Intent intent.Intent
	// QualificationChanged is true when the message filled or refined a
	// qualification field.
	QualificationChanged bool
	Now                  time.Time
}

// Rules holds the tunable parts of the transition table.
type Rules struct {
	DormancyWindow time.Duration
	RequiredFields []string
	// ObjectionLimit consecutive objections hand the lead to a human.
	ObjectionLimit int
	MaxSteps       int
}

// DefaultRules mirrors the configuration defaults.
func DefaultRules() Rules {
	return Rules{
		DormancyWindow: 30 * 24 * time.Hour,
		RequiredFields: []string{leads.FieldBudget, leads.FieldTimeline, leads.FieldFinancing},
		ObjectionLimit: 3,
		MaxSteps:       4,
	}
}

// Step is one edge taken during Apply.
type Step struct {
	From   leads.State `json:"from"`
	To     leads.State `json:"to"`
	Reason string      `json:"reason"`
}

// Transition summarizes an Apply call.
type Transition struct {
	From  leads.State `json:"from"`
	To    leads.State `json:"to"`
	Steps []Step      `json:"steps,omitempty"`
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine applies the transition table under a fixed rule set.
type Machine struct {
	rules Rules
	table []edge
}

// New builds a machine. Zero-valued rule fields fall back to defaults.
func New(rules Rules) *Machine {
	def := DefaultRules()
	if rules.DormancyWindow <= 0 {
		rules.DormancyWindow = def.DormancyWindow
	}
	if rules.RequiredFields == nil {
		rules.RequiredFields = def.RequiredFields
	}
	if rules.ObjectionLimit <= 0 {
		rules.ObjectionLimit = def.ObjectionLimit
	}
	if rules.MaxSteps <= 0 {
		rules.MaxSteps = def.MaxSteps
	}
	m := &Machine{rules: rules}
	m.table = m.buildTable()
	return m
}

// Rules returns the active rule set.
func (m *Machine) Rules() Rules { return m.rules }

// Apply runs the table against lc and mutates its state and state-owned
// flags. Inbound triggers also maintain the consecutive objection counter.
func (m *Machine) Apply(lc *leads.ConversationContext, trig Trigger) Transition {
	tr := Transition{From: lc.State, To: lc.State}
	if lc.State == leads.StateOptedOut {
		return tr
	}

	if trig.Kind == TriggerInbound {
		if trig.Intent == intent.Objection {
			lc.ConsecutiveObjections++
		} else {
			lc.ConsecutiveObjections = 0
		}
	}

	visited := map[leads.State]bool{lc.State: true}
	for i := 0; i < m.rules.MaxSteps; i++ {
		next, reason, ok := m.next(lc, trig)
		if !ok || visited[next] {
			break
		}
		tr.Steps = append(tr.Steps, Step{From: lc.State, To: next, Reason: reason})
		m.enter(lc, next)
		visited[next] = true
		if next.Terminal() {
			break
		}
	}
	tr.To = lc.State
	return tr
}

// IsDormant reports whether lc has been inactive longer than the window.
func (m *Machine) IsDormant(lc *leads.ConversationContext, now time.Time) bool {
	return now.Sub(lc.LastActivity()) > m.rules.DormancyWindow
}

func (m *Machine) next(lc *leads.ConversationContext, trig Trigger) (leads.State, string, bool) {
	for _, e := range m.table {
		if !e.from(lc.State) {
			continue
		}
		if e.when(lc, trig) {
			return e.to, e.reason, true
		}
	}
	return lc.State, "", false
}

// enter sets the state and the flags that are owned by it.
func (m *Machine) enter(lc *leads.ConversationContext, next leads.State) {
	lc.State = next
	switch next {
	case leads.StateOptedOut:
		lc.OptedOut = true
		lc.AwaitingAnswer = false
	case leads.StateHandoff:
		lc.HandoffPending = true
	}
}
