package leads

import (
	"encoding/json"
	"time"
)

// Profile is what we know about the lead as a person.
type Profile struct {
	Name             string  `json:"name,omitempty"`
	Phone            string  `json:"phone,omitempty"`
	Email            string  `json:"email,omitempty"`
	Source           string  `json:"source,omitempty"`
	PropertyInterest string  `json:"property_interest,omitempty"`
	PreferredChannel Channel `json:"preferred_channel,omitempty"`
}

// Address returns the destination for a channel, or "" when unknown.
func (p Profile) Address(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return p.Phone
	case ChannelEmail:
		return p.Email
	}
	return ""
}

// HistoryEntry is one message in the bounded conversation history.
type HistoryEntry struct {
	Direction     Direction `json:"direction"`
	Channel       Channel   `json:"channel,omitempty"`
	Text          string    `json:"text"`
	At            time.Time `json:"at"`
	Intent        string    `json:"intent,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// ProcessedEvent records a correlation id that has already been applied.
type ProcessedEvent struct {
	CorrelationID string    `json:"correlation_id"`
	Seq           int64     `json:"seq"`
	At            time.Time `json:"at"`
	Outcome       string    `json:"outcome"`
}

// PendingDelivery is an outbound message persisted before it was acknowledged
// by the delivery provider. A replay of the same correlation id resends it
// with the same idempotency key.
type PendingDelivery struct {
	CorrelationID  string    `json:"correlation_id"`
	Seq            int64     `json:"seq"`
	Channel        Channel   `json:"channel"`
	To             string    `json:"to"`
	Text           string    `json:"text"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
	Attempts       int       `json:"attempts"`
}

// ConversationContext is the single persisted document per lead.
type ConversationContext struct {
	LeadID  string `json:"lead_id"`
	Version int64  `json:"version"`
	// Seq increases by one for every applied event and keys idempotent side effects.
	Seq   int64 `json:"seq"`
	State State `json:"state"`

	Profile       Profile        `json:"profile"`
	Qualification Qualification  `json:"qualification"`
	History       []HistoryEntry `json:"history,omitempty"`

	LastInboundAt  time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt time.Time `json:"last_outbound_at,omitempty"`

	AIEnabled      bool `json:"ai_enabled"`
	OptedOut       bool `json:"opted_out"`
	HandoffPending bool `json:"handoff_pending"`

	ConsecutiveObjections int  `json:"consecutive_objections,omitempty"`
	AwaitingAnswer        bool `json:"awaiting_answer,omitempty"`

	RecentSends []time.Time      `json:"recent_sends,omitempty"`
	Processed   []ProcessedEvent `json:"processed,omitempty"`
	Pending     *PendingDelivery `json:"pending,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxProcessed bounds the idempotency ledger kept inside the document.
const MaxProcessed = 100

// NewContext starts a conversation in state NEW with automation enabled.
func NewContext(leadID string, now time.Time) *ConversationContext {
	return &ConversationContext{
		LeadID:    leadID,
		State:     StateNew,
		AIEnabled: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		panic("leads: clone marshal: " + err.Error())
	}
	var out ConversationContext
	if err := json.Unmarshal(data, &out); err != nil {
		panic("leads: clone unmarshal: " + err.Error())
	}
	return &out
}

// AppendHistory adds an entry and prunes the oldest beyond limit.
func (c *ConversationContext) AppendHistory(entry HistoryEntry, limit int) {
	c.History = append(c.History, entry)
	if limit > 0 && len(c.History) > limit {
		c.History = append([]HistoryEntry(nil), c.History[len(c.History)-limit:]...)
	}
}

// RecentHistory returns up to the last k entries, oldest first.
func (c *ConversationContext) RecentHistory(k int) []HistoryEntry {
	if k <= 0 || len(c.History) == 0 {
		return nil
	}
	if k >= len(c.History) {
		return c.History
	}
	return c.History[len(c.History)-k:]
}

// LastActivity is the most recent inbound or outbound timestamp, falling back
// to creation time.
func (c *ConversationContext) LastActivity() time.Time {
	last := c.CreatedAt
	if c.LastInboundAt.After(last) {
		last = c.LastInboundAt
	}
	if c.LastOutboundAt.After(last) {
		last = c.LastOutboundAt
	}
	return last
}

// SendsSince counts recorded outbound sends at or after since.
func (c *ConversationContext) SendsSince(since time.Time) int {
	n := 0
	for _, at := range c.RecentSends {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

// RecordSend notes an outbound send and drops entries older than lookback.
func (c *ConversationContext) RecordSend(at time.Time, lookback time.Duration) {
	c.LastOutboundAt = at
	c.RecentSends = append(c.RecentSends, at)
	if lookback <= 0 {
		return
	}
	cutoff := at.Add(-lookback)
	kept := c.RecentSends[:0]
	for _, t := range c.RecentSends {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	c.RecentSends = kept
}

// ProcessedEvent looks up a correlation id in the idempotency ledger.
func (c *ConversationContext) ProcessedEvent(correlationID string) (ProcessedEvent, bool) {
	for _, p := range c.Processed {
		if p.CorrelationID == correlationID {
			return p, true
		}
	}
	return ProcessedEvent{}, false
}

// MarkProcessed records a correlation id, keeping the newest MaxProcessed.
func (c *ConversationContext) MarkProcessed(correlationID string, seq int64, at time.Time, outcome string) {
	c.Processed = append(c.Processed, ProcessedEvent{CorrelationID: correlationID, Seq: seq, At: at, Outcome: outcome})
	if len(c.Processed) > MaxProcessed {
		c.Processed = append([]ProcessedEvent(nil), c.Processed[len(c.Processed)-MaxProcessed:]...)
	}
}

// CanSendAutomated reports whether any automated send is permitted at all.
func (c *ConversationContext) CanSendAutomated() bool {
	return !c.OptedOut && c.State != StateOptedOut && c.AIEnabled && !c.HandoffPending
}

// ReplyChannel picks the channel for the next outbound message: the channel
// the lead last wrote on, then the profile preference, then whichever
// address is known, SMS first.
func (c *ConversationContext) ReplyChannel() Channel {
	for i := len(c.History) - 1; i >= 0; i-- {
		if e := c.History[i]; e.Direction == Inbound && e.Channel.Valid() {
			return e.Channel
		}
	}
	if c.Profile.PreferredChannel.Valid() {
		return c.Profile.PreferredChannel
	}
	if c.Profile.Phone == "" && c.Profile.Email != "" {
		return ChannelEmail
	}
	return ChannelSMS
}
