// Package archive stores transcripts of conversations that reached a terminal
// state in S3.
package archive

import (
	"time"

	"github.com/wolfman30/lead-reengage/internal/leads"
)

// RecordVersion is written into every TranscriptRecord.
const RecordVersion = "1.0"

// TranscriptRecord is the document archived per finished conversation.
type TranscriptRecord struct {
	Version         string              `json:"version"`
	LeadID          string              `json:"lead_id"`
	PhoneHash       string              `json:"phone_hash,omitempty"` // sha256 of phone
	EmailHash       string              `json:"email_hash,omitempty"`
	Source          string              `json:"source,omitempty"`
	ArchivedAt      time.Time           `json:"archived_at"`
	StartedAt       time.Time           `json:"started_at"`
	DurationSeconds int                 `json:"duration_seconds"`
	MessageCount    int                 `json:"message_count"`
	FinalState      leads.State         `json:"final_state"`
	Qualification   leads.Qualification `json:"qualification"`
	Messages        []Message           `json:"messages"`
}

// Message is a single conversation turn.
type Message struct {
	Direction leads.Direction `json:"direction"`
	Channel   leads.Channel   `json:"channel,omitempty"`
	Intent    string          `json:"intent,omitempty"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	LeadID       string `json:"lead_id"`
	S3Key        string `json:"s3_key"`
	FinalState   string `json:"final_state"`
	ArchivedAt   string `json:"archived_at"`
	MessageCount int    `json:"message_count"`
}

// NewRecord builds a scrubbed transcript from a conversation context.
func NewRecord(lc *leads.ConversationContext, now time.Time) *TranscriptRecord {
	msgs := make([]Message, 0, len(lc.History))
	for _, h := range lc.History {
		msgs = append(msgs, Message{
			Direction: h.Direction,
			Channel:   h.Channel,
			Intent:    h.Intent,
			Content:   h.Text,
			Timestamp: h.At,
		})
	}
	ScrubMessages(msgs)

	rec := &TranscriptRecord{
		Version:         RecordVersion,
		LeadID:          lc.LeadID,
		Source:          lc.Profile.Source,
		ArchivedAt:      now.UTC(),
		StartedAt:       lc.CreatedAt,
		DurationSeconds: int(lc.LastActivity().Sub(lc.CreatedAt).Seconds()),
		MessageCount:    len(msgs),
		FinalState:      lc.State,
		Qualification:   lc.Qualification,
		Messages:        msgs,
	}
	if lc.Profile.Phone != "" {
		rec.PhoneHash = HashContact(lc.Profile.Phone)
	}
	if lc.Profile.Email != "" {
		rec.EmailHash = HashContact(lc.Profile.Email)
	}
	return rec
}
