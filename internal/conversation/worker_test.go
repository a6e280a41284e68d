package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls map[string][]string
	total int
	fail  func(evt events.Inbound, attempt int) error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{calls: make(map[string][]string)}
}

func (h *recordingHandler) Handle(_ context.Context, evt events.Inbound) (*Result, error) {
	h.mu.Lock()
	attempt := 0
	for _, id := range h.calls[evt.LeadID] {
		if id == evt.CorrelationID {
			attempt++
		}
	}
	h.calls[evt.LeadID] = append(h.calls[evt.LeadID], evt.CorrelationID)
	h.total++
	fail := h.fail
	h.mu.Unlock()

	if fail != nil {
		if err := fail(evt, attempt); err != nil {
			return nil, err
		}
	}
	return &Result{LeadID: evt.LeadID, CorrelationID: evt.CorrelationID, Outcome: OutcomeReplied}, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *recordingHandler) order(leadID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls[leadID]...)
}

type countingQueue struct {
	*MemoryQueue
	deletes atomic.Int32
}

func (q *countingQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.deletes.Add(1)
	return q.MemoryQueue.Delete(ctx, receiptHandle)
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func publishMessages(t *testing.T, pub *Publisher, leadID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-evt-%d", leadID, i)
		err := pub.Publish(context.Background(), events.Inbound{
			LeadID:        leadID,
			Channel:       leads.ChannelSMS,
			Text:          "hi",
			ReceivedAt:    time.Now(),
			CorrelationID: id,
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestWorkerKeepsPerLeadOrder(t *testing.T) {
	queue := NewMemoryQueue(64)
	handler := newRecordingHandler()
	pub := NewPublisher(queue, logging.Default())
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithShardCount(4), WithReceiveBatchSize(10), WithReceiveWaitSeconds(0))

	wantA := publishMessages(t, pub, "lead-a", 6)
	wantB := publishMessages(t, pub, "lead-b", 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	waitFor(func() bool { return handler.count() == 12 }, 2*time.Second, t)
	cancel()
	worker.Wait()

	for lead, want := range map[string][]string{"lead-a": wantA, "lead-b": wantB} {
		got := handler.order(lead)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %d events, got %d", lead, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: event %d out of order: got %s want %s", lead, i, got[i], want[i])
			}
		}
	}
	if queue.InFlight() != 0 {
		t.Fatalf("expected all messages acknowledged, %d in flight", queue.InFlight())
	}
}

func TestWorkerRedeliversRetryableFailure(t *testing.T) {
	queue := NewMemoryQueue(16)
	handler := newRecordingHandler()
	handler.fail = func(evt events.Inbound, attempt int) error {
		if attempt == 0 {
			return newError(KindTransient, "save", evt.LeadID, errors.New("database unavailable"))
		}
		return nil
	}
	pub := NewPublisher(queue, logging.Default())
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveWaitSeconds(0), WithRetryDelay(0))

	publishMessages(t, pub, "lead-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	waitFor(func() bool { return handler.count() == 2 }, 2*time.Second, t)
	waitFor(func() bool { return queue.InFlight() == 0 }, time.Second, t)
	cancel()
	worker.Wait()

	if got := handler.order("lead-1"); len(got) != 2 || got[0] != got[1] {
		t.Fatalf("expected the same event twice, got %v", got)
	}
}

func TestWorkerDropsPermanentFailure(t *testing.T) {
	queue := &countingQueue{MemoryQueue: NewMemoryQueue(16)}
	handler := newRecordingHandler()
	handler.fail = func(evt events.Inbound, _ int) error {
		return newError(KindValidation, "handle", evt.LeadID, events.ErrInvalidEvent)
	}
	pub := NewPublisher(queue, logging.Default())
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveWaitSeconds(0), WithRetryDelay(0))

	publishMessages(t, pub, "lead-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	waitFor(func() bool { return queue.deletes.Load() == 1 }, 2*time.Second, t)
	time.Sleep(50 * time.Millisecond)
	cancel()
	worker.Wait()

	if handler.count() != 1 {
		t.Fatalf("expected a single attempt, got %d", handler.count())
	}
}

func TestWorkerDeletesUndecodableMessage(t *testing.T) {
	queue := &countingQueue{MemoryQueue: NewMemoryQueue(16)}
	handler := newRecordingHandler()
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveWaitSeconds(0))

	if err := queue.Send(context.Background(), "{not json"); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	waitFor(func() bool { return queue.deletes.Load() == 1 }, 2*time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 0 {
		t.Fatalf("expected handler not to run, got %d calls", handler.count())
	}
	if queue.InFlight() != 0 {
		t.Fatalf("expected message acknowledged, %d in flight", queue.InFlight())
	}
}

func TestShardForIsStable(t *testing.T) {
	for _, lead := range []string{"lead-1", "lead-2", "a", ""} {
		first := ShardFor(lead, 8)
		if first < 0 || first >= 8 {
			t.Fatalf("shard %d out of range for %q", first, lead)
		}
		if again := ShardFor(lead, 8); again != first {
			t.Fatalf("shard changed for %q: %d then %d", lead, first, again)
		}
	}
	if ShardFor("lead-1", 1) != 0 || ShardFor("lead-1", 0) != 0 {
		t.Fatal("expected single shard to be 0")
	}
}
