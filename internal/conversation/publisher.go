package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// Publisher enqueues inbound events for asynchronous processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// Publish validates evt and sends it to the queue.
func (p *Publisher) Publish(ctx context.Context, evt events.Inbound) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := evt.Validate(); err != nil {
		return newError(KindValidation, "publish", evt.LeadID, err)
	}

	body, err := events.EncodeInbound(evt)
	if err != nil {
		return fmt.Errorf("conversation: encode event: %w", err)
	}

	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("conversation: failed to enqueue event: %w", err)
	}

	p.logger.Debug("inbound event enqueued", "lead_id", evt.LeadID, "correlation_id", evt.CorrelationID, "kind", eventKind(evt))
	return nil
}
