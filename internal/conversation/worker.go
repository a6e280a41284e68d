package conversation

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// EventHandler processes one inbound event. *Orchestrator implements it.
type EventHandler interface {
	Handle(ctx context.Context, evt events.Inbound) (*Result, error)
}

// Worker consumes inbound events from the queue. Receivers route every event
// to a shard chosen by lead id, and each shard handles its events one at a
// time, so events of one lead are applied in arrival order within a process.
type Worker struct {
	handler EventHandler
	queue   queueClient
	logger  *logging.Logger

	cfg    workerConfig
	shards []chan queueEvent
	wg     sync.WaitGroup
	shardW sync.WaitGroup
}

type queueEvent struct {
	msg queueMessage
	evt events.Inbound
}

type workerConfig struct {
	workers          int
	shards           int
	receiveWaitSecs  int
	receiveBatchSize int
	retryDelay       time.Duration
}

const (
	defaultWorkerCount   = 2
	defaultShardCount    = 8
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	defaultRetryDelay    = 30 * time.Second
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent receive goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithShardCount sets the number of per-lead serial processors.
func WithShardCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.shards = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithRetryDelay sets how long a failed, retryable event stays invisible.
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d >= 0 {
			cfg.retryDelay = d
		}
	}
}

// NewWorker constructs a queue consumer around the provided handler.
func NewWorker(handler EventHandler, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		shards:           defaultShardCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		retryDelay:       defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler: handler,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches receive and shard goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.shards = make([]chan queueEvent, w.cfg.shards)
	for i := range w.shards {
		w.shards[i] = make(chan queueEvent, w.cfg.receiveBatchSize*2)
		w.shardW.Add(1)
		go w.runShard(ctx, i, w.shards[i])
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
	go func() {
		w.wg.Wait()
		for _, ch := range w.shards {
			close(ch)
		}
	}()
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
	w.shardW.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound events", "error", err, "worker_id", workerID)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			evt, err := events.DecodeInbound([]byte(msg.Body))
			if err != nil {
				w.logger.Error("failed to decode inbound event", "error", err, "msg_id", msg.ID)
				w.deleteMessage(msg.ReceiptHandle)
				continue
			}
			select {
			case w.shards[ShardFor(evt.LeadID, len(w.shards))] <- queueEvent{msg: msg, evt: evt}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) runShard(ctx context.Context, shard int, in <-chan queueEvent) {
	defer w.shardW.Done()
	for qe := range in {
		if ctx.Err() != nil {
			w.release(qe.msg.ReceiptHandle, 0)
			continue
		}
		w.handleMessage(ctx, shard, qe)
	}
}

func (w *Worker) handleMessage(ctx context.Context, shard int, qe queueEvent) {
	res, err := w.handler.Handle(ctx, qe.evt)
	switch {
	case err == nil:
		w.logger.Debug("inbound event handled",
			"lead_id", qe.evt.LeadID,
			"correlation_id", qe.evt.CorrelationID,
			"outcome", string(res.Outcome),
			"shard", shard,
		)
		w.deleteMessage(qe.msg.ReceiptHandle)
	case Retryable(err):
		w.logger.Warn("inbound event failed, leaving for redelivery",
			"lead_id", qe.evt.LeadID,
			"correlation_id", qe.evt.CorrelationID,
			"kind", string(KindOf(err)),
			"error", err,
		)
		w.release(qe.msg.ReceiptHandle, w.cfg.retryDelay)
	default:
		w.logger.Error("inbound event failed permanently",
			"lead_id", qe.evt.LeadID,
			"correlation_id", qe.evt.CorrelationID,
			"kind", string(KindOf(err)),
			"error", err,
		)
		w.deleteMessage(qe.msg.ReceiptHandle)
	}
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound event", "error", err)
	}
}

func (w *Worker) release(receiptHandle string, delay time.Duration) {
	r, ok := w.queue.(queueReleaser)
	if !ok || receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := r.Release(ctx, receiptHandle, delay); err != nil {
		w.logger.Warn("failed to release inbound event", "error", err)
	}
}

// ShardFor maps a lead id to one of n shards.
func ShardFor(leadID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(leadID))
	return int(h.Sum32() % uint32(n))
}
