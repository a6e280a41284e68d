package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// SMSSender sends SMS messages to on-call agents.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ContextLoader fetches the conversation context for richer notifications.
type ContextLoader interface {
	Load(ctx context.Context, leadID string) (*leads.ConversationContext, error)
}

// Recipients names the humans that receive hand-off notifications.
type Recipients struct {
	Emails    []string
	SMS       []string
	Brokerage string
}

// Service notifies humans when a conversation needs them.
type Service struct {
	email      EmailSender
	sms        SMSSender
	contexts   ContextLoader
	recipients Recipients
	logger     *logging.Logger
}

// NewService creates a notification service. Any collaborator may be nil.
func NewService(email EmailSender, sms SMSSender, contexts ContextLoader, recipients Recipients, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		sms:        sms,
		contexts:   contexts,
		recipients: recipients,
		logger:     logger,
	}
}

// NotifyHuman tells the on-call agents that a lead needs a person. It fails
// only when every configured recipient failed.
func (s *Service) NotifyHuman(ctx context.Context, leadID, reason, lastMessage string) error {
	var profile leads.Profile
	var lc *leads.ConversationContext
	if s.contexts != nil && leadID != "" {
		loaded, err := s.contexts.Load(ctx, leadID)
		if err == nil && loaded != nil {
			lc = loaded
			profile = loaded.Profile
		} else if err != nil && !errors.Is(err, leads.ErrLeadNotFound) {
			s.logger.Warn("notify: context lookup failed", "error", err, "lead_id", leadID)
		}
	}

	name := profile.Name
	if name == "" {
		name = "A lead"
	}

	var (
		attempted int
		errs      []error
	)

	if s.email != nil && len(s.recipients.Emails) > 0 {
		subject := fmt.Sprintf("Lead needs an agent: %s", name)
		body := handoffEmailBody(leadID, name, profile, lc, reason, lastMessage, s.recipients.Brokerage)
		for _, recipient := range s.recipients.Emails {
			attempted++
			msg := EmailMessage{
				To:             recipient,
				Subject:        subject,
				Body:           body,
				IdempotencyKey: "handoff:" + leadID,
			}
			if err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("notify: failed to send email", "error", err, "to", recipient, "lead_id", leadID)
				errs = append(errs, err)
				continue
			}
			s.logger.Info("notify: handoff email sent", "to", recipient, "lead_id", leadID)
		}
	}

	if s.sms != nil && len(s.recipients.SMS) > 0 {
		body := handoffSMSBody(name, profile, reason, lastMessage)
		for _, recipient := range s.recipients.SMS {
			attempted++
			if err := s.sms.SendSMS(ctx, recipient, body); err != nil {
				s.logger.Error("notify: failed to send agent SMS", "error", err, "to", recipient, "lead_id", leadID)
				errs = append(errs, err)
				continue
			}
			s.logger.Info("notify: handoff SMS sent", "to", recipient, "lead_id", leadID)
		}
	}

	if attempted == 0 {
		s.logger.Warn("notify: no handoff recipients configured", "lead_id", leadID, "reason", reason)
		return nil
	}
	if len(errs) == attempted {
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func handoffEmailBody(leadID, name string, profile leads.Profile, lc *leads.ConversationContext, reason, lastMessage, brokerage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s asked to talk with a person.\n\n", name)
	fmt.Fprintf(&b, "Lead ID: %s\n", leadID)
	if profile.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", profile.Phone)
	}
	if profile.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", profile.Email)
	}
	if profile.PropertyInterest != "" {
		fmt.Fprintf(&b, "Interested in: %s\n", profile.PropertyInterest)
	}
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	if lc != nil {
		fmt.Fprintf(&b, "State: %s\n", lc.State)
		if summary := qualificationSummary(lc.Qualification); summary != "" {
			fmt.Fprintf(&b, "Qualification: %s\n", summary)
		}
	}
	if lastMessage != "" {
		fmt.Fprintf(&b, "\nLast message:\n%q\n", lastMessage)
	}
	b.WriteString("\nAutomation is paused for this lead until an agent resumes it.")
	if brokerage != "" {
		fmt.Fprintf(&b, "\n\n%s", brokerage)
	}
	return b.String()
}

func handoffSMSBody(name string, profile leads.Profile, reason, lastMessage string) string {
	contact := profile.Phone
	if contact == "" {
		contact = profile.Email
	}
	body := fmt.Sprintf("%s needs an agent (%s).", name, reason)
	if contact != "" {
		body += " Contact: " + contact + "."
	}
	if lastMessage != "" {
		msg := []rune(lastMessage)
		if len(msg) > 120 {
			msg = append(msg[:117], []rune("...")...)
		}
		body += fmt.Sprintf(" Last: %q", string(msg))
	}
	return body
}

func qualificationSummary(q leads.Qualification) string {
	var parts []string
	if q.Budget != nil {
		switch {
		case q.Budget.Min > 0 && q.Budget.Max > 0:
			parts = append(parts, fmt.Sprintf("budget $%d-$%d", q.Budget.Min, q.Budget.Max))
		case q.Budget.Max > 0:
			parts = append(parts, fmt.Sprintf("budget up to $%d", q.Budget.Max))
		case q.Budget.Min > 0:
			parts = append(parts, fmt.Sprintf("budget from $%d", q.Budget.Min))
		}
	}
	if q.Bedrooms != nil && q.Bedrooms.Min > 0 {
		parts = append(parts, fmt.Sprintf("%d+ bedrooms", q.Bedrooms.Min))
	}
	if q.Timeline != nil && q.Timeline.Text != "" {
		parts = append(parts, "timeline "+q.Timeline.Text)
	}
	if q.Financing != "" {
		parts = append(parts, "financing "+string(q.Financing))
	}
	if len(q.Areas) > 0 {
		parts = append(parts, "areas "+strings.Join(q.Areas, ", "))
	}
	return strings.Join(parts, "; ")
}
