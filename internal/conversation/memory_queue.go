package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a queueClient backed by an in-memory buffered channel.
// Received messages stay in flight until deleted or released.
type MemoryQueue struct {
	ch chan queueMessage

	mu       sync.Mutex
	inflight map[string]queueMessage
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:       make(chan queueMessage, buffer),
		inflight: make(map[string]queueMessage),
	}
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := queueMessage{
		ID:   uuid.NewString(),
		Body: body,
	}
	return q.push(ctx, msg)
}

func (q *MemoryQueue) push(ctx context.Context, msg queueMessage) error {
	msg.ReceiptHandle = uuid.NewString()
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timer *time.Timer
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
	}

	if timer == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(ctx, msg, maxMessages), nil
	}
}

// Delete acknowledges a received message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	delete(q.inflight, receiptHandle)
	q.mu.Unlock()
	return nil
}

// Release re-enqueues an in-flight message after delay.
func (q *MemoryQueue) Release(_ context.Context, receiptHandle string, delay time.Duration) error {
	q.mu.Lock()
	msg, ok := q.inflight[receiptHandle]
	delete(q.inflight, receiptHandle)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	requeue := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.push(ctx, msg)
	}
	if delay <= 0 {
		requeue()
		return nil
	}
	time.AfterFunc(delay, requeue)
	return nil
}

// InFlight returns the number of received but unacknowledged messages.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) collect(ctx context.Context, first queueMessage, max int) []queueMessage {
	messages := make([]queueMessage, 0, max)
	messages = append(messages, first)

	for len(messages) < max {
		select {
		case <-ctx.Done():
			return q.track(messages)
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return q.track(messages)
		}
	}
	return q.track(messages)
}

func (q *MemoryQueue) track(messages []queueMessage) []queueMessage {
	q.mu.Lock()
	for _, m := range messages {
		q.inflight[m.ReceiptHandle] = m
	}
	q.mu.Unlock()
	return messages
}
