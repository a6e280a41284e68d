// Package events defines the inbound event contract consumed by the
// conversation engine and the durable record of handled events.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/lead-reengage/internal/leads"
)

// TriggerType names a scheduled, non-message event.
type TriggerType string

const (
	// TriggerFollowupDue fires when a scheduled follow-up comes due.
	TriggerFollowupDue TriggerType = "followup_due"
	// TriggerReengage is a campaign touch for a new or dormant lead.
	TriggerReengage TriggerType = "reengage"
	// TriggerDormancyCheck only ages the conversation; it never sends.
	TriggerDormancyCheck TriggerType = "dormancy_check"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerFollowupDue, TriggerReengage, TriggerDormancyCheck:
		return true
	}
	return false
}

// MaxTextLength bounds inbound message bodies.
const MaxTextLength = 5000

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("events: invalid event")

// Inbound is one unit of work for the engine: a message from the lead or a
// scheduled trigger. CorrelationID is stable across redeliveries.
type Inbound struct {
	LeadID        string         `json:"lead_id"`
	Channel       leads.Channel  `json:"channel,omitempty"`
	Text          string         `json:"text,omitempty"`
	Trigger       TriggerType    `json:"trigger,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
	CorrelationID string         `json:"correlation_id"`
	Profile       *leads.Profile `json:"profile,omitempty"`
}

// IsTrigger reports whether the event is scheduled rather than a message.
func (e Inbound) IsTrigger() bool { return e.Trigger != "" }

// Validate checks the event shape. Errors wrap ErrInvalidEvent.
func (e Inbound) Validate() error {
	if strings.TrimSpace(e.LeadID) == "" {
		return fmt.Errorf("%w: lead id required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		return fmt.Errorf("%w: correlation id required", ErrInvalidEvent)
	}
	if e.IsTrigger() {
		if !e.Trigger.Valid() {
			return fmt.Errorf("%w: unknown trigger %q", ErrInvalidEvent, e.Trigger)
		}
		if e.Text != "" {
			return fmt.Errorf("%w: trigger events carry no text", ErrInvalidEvent)
		}
		if e.Channel != "" && !e.Channel.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidEvent, e.Channel)
		}
		return nil
	}
	if !e.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidEvent, e.Channel)
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("%w: message text required", ErrInvalidEvent)
	}
	if len(e.Text) > MaxTextLength {
		return fmt.Errorf("%w: message text exceeds %d bytes", ErrInvalidEvent, MaxTextLength)
	}
	return nil
}
