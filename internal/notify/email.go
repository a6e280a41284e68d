package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// DefaultFromName is used when no sender display name is configured.
const DefaultFromName = "Lead Desk"

// EmailSender defines the interface for sending emails.
// Implementations can be swapped (SendGrid, SES) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
	// IdempotencyKey travels as a custom header so provider logs can be
	// matched to the delivery that produced them.
	IdempotencyKey string
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// BaseURL overrides the mail send endpoint.
	BaseURL string
}

// NewSendGridSender creates a new SendGrid email sender. It returns nil
// without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)
	if msg.IdempotencyKey != "" {
		message.SetHeader("X-Idempotency-Key", msg.IdempotencyKey)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}

// StubEmailSender is a no-op sender for testing or when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// FailoverEmailSender tries the primary sender and falls back to the
// secondary on error.
type FailoverEmailSender struct {
	primary   EmailSender
	secondary EmailSender
	logger    *logging.Logger
}

// NewFailoverEmailSender returns whichever sender is non-nil when only one is
// configured.
func NewFailoverEmailSender(primary, secondary EmailSender, logger *logging.Logger) EmailSender {
	switch {
	case isNilSender(primary):
		return secondary
	case isNilSender(secondary):
		return primary
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverEmailSender{primary: primary, secondary: secondary, logger: logger}
}

// Send implements EmailSender.
func (f *FailoverEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	err := f.primary.Send(ctx, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	f.logger.Warn("primary email sender failed, trying secondary", "error", err, "to", msg.To)
	if err2 := f.secondary.Send(ctx, msg); err2 != nil {
		return fmt.Errorf("notify: all email senders failed: primary: %v; secondary: %w", err, err2)
	}
	return nil
}

func isNilSender(s EmailSender) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *SendGridSender:
		return v == nil
	case *SESSender:
		return v == nil
	}
	return false
}
