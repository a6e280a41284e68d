package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/lead-reengage/internal/notify"
)

// DefaultEmailSubject is used when a delivery carries no subject.
const DefaultEmailSubject = "Checking in on your home search"

// EmailChannelSender delivers lead emails through a notify.EmailSender.
type EmailChannelSender struct {
	email    notify.EmailSender
	provider string
	subject  string
}

// NewEmailChannelSender wraps an email sender. provider names it in receipts.
func NewEmailChannelSender(email notify.EmailSender, provider, defaultSubject string) *EmailChannelSender {
	if email == nil {
		panic("messaging: email sender required")
	}
	if defaultSubject == "" {
		defaultSubject = DefaultEmailSubject
	}
	return &EmailChannelSender{email: email, provider: provider, subject: defaultSubject}
}

var _ Sender = (*EmailChannelSender)(nil)

// Send implements Sender.
func (s *EmailChannelSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if err := d.Validate(); err != nil {
		return Receipt{}, err
	}
	subject := d.Subject
	if subject == "" {
		subject = s.subject
	}
	err := s.email.Send(ctx, notify.EmailMessage{
		To:             d.To,
		Subject:        subject,
		Body:           d.Text,
		IdempotencyKey: d.IdempotencyKey,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("messaging: email: %w", err)
	}
	return Receipt{Provider: s.provider, Status: "accepted", SentAt: time.Now().UTC()}, nil
}
