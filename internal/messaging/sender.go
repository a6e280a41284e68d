// Package messaging delivers outbound messages to leads over SMS and email.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

var (
	// ErrInvalidDelivery is returned for a delivery missing a destination or body.
	ErrInvalidDelivery = errors.New("messaging: invalid delivery")
	// ErrUnsupportedChannel is returned when no sender handles the channel.
	ErrUnsupportedChannel = errors.New("messaging: unsupported channel")
	// ErrDeliveryInFlight is returned when another worker holds the same
	// idempotency key and has not finished sending.
	ErrDeliveryInFlight = errors.New("messaging: delivery already in flight")
	// ErrRejected marks provider rejections that will not succeed on retry.
	ErrRejected = errors.New("messaging: rejected by provider")
)

// Delivery is one outbound message.
type Delivery struct {
	LeadID         string
	Channel        leads.Channel
	To             string
	Subject        string
	Text           string
	IdempotencyKey string
}

// Validate checks that the delivery can be handed to a provider.
func (d Delivery) Validate() error {
	if !d.Channel.Valid() {
		return fmt.Errorf("%w: channel %q", ErrInvalidDelivery, d.Channel)
	}
	if strings.TrimSpace(d.To) == "" {
		return fmt.Errorf("%w: to required", ErrInvalidDelivery)
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("%w: body required", ErrInvalidDelivery)
	}
	return nil
}

// Receipt acknowledges a delivery accepted by a provider.
type Receipt struct {
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	Duplicate         bool      `json:"duplicate,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// Sender hands a delivery to a provider.
type Sender interface {
	Send(ctx context.Context, d Delivery) (Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, d Delivery) (Receipt, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, d Delivery) (Receipt, error) { return f(ctx, d) }

// LogSender logs deliveries instead of sending them. Used in development.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if err := d.Validate(); err != nil {
		return Receipt{}, err
	}
	s.logger.Info("log sender: would deliver",
		"lead_id", d.LeadID,
		"channel", string(d.Channel),
		"to", d.To,
		"idempotency_key", d.IdempotencyKey,
		"text", d.Text,
	)
	return Receipt{Provider: "log", ProviderMessageID: uuid.NewString(), Status: "logged", SentAt: time.Now().UTC()}, nil
}

// SMSNotifier lets a Sender deliver agent notifications over SMS.
type SMSNotifier struct {
	Sender Sender
}

// SendSMS sends a plain SMS to an agent.
func (n SMSNotifier) SendSMS(ctx context.Context, to, body string) error {
	_, err := n.Sender.Send(ctx, Delivery{Channel: leads.ChannelSMS, To: to, Text: body})
	return err
}
