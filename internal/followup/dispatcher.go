package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/lead-reengage/internal/conversation"
	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// Handler applies a trigger event. *conversation.Orchestrator implements it.
type Handler interface {
	Handle(ctx context.Context, evt events.Inbound) (*conversation.Result, error)
}

// Dispatcher polls the store and fires due follow-ups.
type Dispatcher struct {
	store   Store
	handler Handler
	logger  *logging.Logger
	now     func() time.Time

	batchSize   int
	interval    time.Duration
	lease       time.Duration
	retryDelay  time.Duration
	maxAttempts int
}

// NewDispatcher builds a dispatcher with a 25 task batch polled every 5s.
func NewDispatcher(store Store, handler Handler, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("followup: store cannot be nil")
	}
	if handler == nil {
		panic("followup: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:       store,
		handler:     handler,
		logger:      logger,
		now:         time.Now,
		batchSize:   25,
		interval:    5 * time.Second,
		lease:       2 * time.Minute,
		retryDelay:  time.Minute,
		maxAttempts: 5,
	}
}

func (d *Dispatcher) WithBatchSize(size int) *Dispatcher {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithRetryDelay sets how long a task waits after a retryable failure.
func (d *Dispatcher) WithRetryDelay(delay time.Duration) *Dispatcher {
	if delay > 0 {
		d.retryDelay = delay
	}
	return d
}

// WithMaxAttempts bounds how often one task is retried after failures.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain fires every task due now and returns how many were claimed.
func (d *Dispatcher) Drain(ctx context.Context) int {
	now := d.now()
	tasks, err := d.store.ClaimDue(ctx, now, d.lease, d.batchSize)
	if err != nil {
		d.logger.Error("follow-up claim failed", "error", err)
		return 0
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		d.fire(ctx, task, now)
	}
	return len(tasks)
}

// CorrelationID identifies one firing of a task. Retries after a failure
// reuse it so the engine replays any pending delivery under the same
// idempotency key. A compliance deferral starts a new generation, which fires
// under a new id.
func CorrelationID(task Task) string {
	return fmt.Sprintf("followup:%s:%d", task.ID, task.Generation)
}

func (d *Dispatcher) fire(ctx context.Context, task Task, now time.Time) {
	evt := events.Inbound{
		LeadID:        task.LeadID,
		Trigger:       events.TriggerFollowupDue,
		ReceivedAt:    now,
		CorrelationID: CorrelationID(task),
	}
	res, err := d.handler.Handle(ctx, evt)
	if err != nil {
		if conversation.Retryable(err) && task.Attempts < d.maxAttempts {
			d.logger.Warn("follow-up failed, retrying",
				"lead_id", task.LeadID,
				"task_id", task.ID,
				"attempts", task.Attempts,
				"error", err,
			)
			d.reschedule(ctx, task, now.Add(d.retryDelay*time.Duration(task.Attempts)))
			return
		}
		d.logger.Error("follow-up dropped",
			"lead_id", task.LeadID,
			"task_id", task.ID,
			"attempts", task.Attempts,
			"kind", string(conversation.KindOf(err)),
			"error", err,
		)
		d.complete(ctx, task)
		return
	}

	if res.Outcome == conversation.OutcomeBlocked && !res.RetryAt.IsZero() {
		d.logger.Info("follow-up deferred",
			"lead_id", task.LeadID,
			"task_id", task.ID,
			"reason", string(res.Compliance.Reason),
			"retry_at", res.RetryAt,
		)
		if err := d.store.Defer(ctx, task.ID, res.RetryAt); err != nil {
			d.logger.Error("failed to defer follow-up", "task_id", task.ID, "error", err)
		}
		return
	}

	d.logger.Debug("follow-up fired", "lead_id", task.LeadID, "task_id", task.ID, "outcome", string(res.Outcome))
	d.complete(ctx, task)
}

func (d *Dispatcher) reschedule(ctx context.Context, task Task, at time.Time) {
	if err := d.store.Reschedule(ctx, task.ID, at); err != nil {
		d.logger.Error("failed to reschedule follow-up", "task_id", task.ID, "error", err)
	}
}

func (d *Dispatcher) complete(ctx context.Context, task Task) {
	if err := d.store.Complete(ctx, task.ID); err != nil {
		d.logger.Error("failed to complete follow-up", "task_id", task.ID, "error", err)
	}
}
