package conversation

import (
	"context"
	"time"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// queueReleaser is implemented by queues that can make a received message
// visible again before its visibility timeout.
type queueReleaser interface {
	Release(ctx context.Context, receiptHandle string, delay time.Duration) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}
