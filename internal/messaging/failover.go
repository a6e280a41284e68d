package messaging

import (
	"context"
	"errors"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// FailoverSender attempts a primary send, then falls back to a secondary provider on error.
type FailoverSender struct {
	primary       Sender
	secondary     Sender
	primaryName   string
	secondaryName string
	logger        *logging.Logger
}

// NewFailoverSender builds a failover sender with named providers.
func NewFailoverSender(primary Sender, primaryName string, secondary Sender, secondaryName string, logger *logging.Logger) *FailoverSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverSender{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

var _ Sender = (*FailoverSender)(nil)

// Send tries the primary provider first, then the secondary. Invalid
// deliveries and cancelled contexts are not retried on the secondary.
func (f *FailoverSender) Send(ctx context.Context, d Delivery) (Receipt, error) {
	if f == nil || f.primary == nil {
		return Receipt{}, errors.New("messaging: failover primary sender not configured")
	}
	receipt, err := f.primary.Send(ctx, d)
	if err == nil || f.secondary == nil || errors.Is(err, ErrInvalidDelivery) || ctx.Err() != nil {
		return receipt, err
	}
	f.logger.Warn("primary send failed; attempting fallback",
		"provider", f.primaryName,
		"fallback", f.secondaryName,
		"error", err,
		"lead_id", d.LeadID,
	)
	receipt, fallbackErr := f.secondary.Send(ctx, d)
	if fallbackErr != nil {
		f.logger.Error("fallback send failed",
			"provider", f.secondaryName,
			"error", fallbackErr,
			"lead_id", d.LeadID,
		)
		return Receipt{}, fallbackErr
	}
	return receipt, nil
}
