package followup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lead-reengage/internal/compliance"
	"github.com/wolfman30/lead-reengage/internal/conversation"
	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

type scriptedHandler struct {
	mu     sync.Mutex
	seen   []events.Inbound
	result func(evt events.Inbound) (*conversation.Result, error)
}

func (h *scriptedHandler) Handle(_ context.Context, evt events.Inbound) (*conversation.Result, error) {
	h.mu.Lock()
	h.seen = append(h.seen, evt)
	h.mu.Unlock()
	if h.result != nil {
		return h.result(evt)
	}
	return &conversation.Result{LeadID: evt.LeadID, Outcome: conversation.OutcomeReplied}, nil
}

func newTestDispatcher(store Store, h Handler) *Dispatcher {
	d := NewDispatcher(store, h, logging.Default())
	d.now = func() time.Time { return t0 }
	return d
}

func TestDispatcherFiresDueTasks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task := mustTask(t, "lead-1", t0.Add(-time.Minute), 20)
	require.NoError(t, store.Upsert(ctx, task))
	require.NoError(t, store.Upsert(ctx, mustTask(t, "lead-2", t0.Add(time.Hour), 20)))

	h := &scriptedHandler{}
	d := newTestDispatcher(store, h)

	assert.Equal(t, 1, d.Drain(ctx))
	require.Len(t, h.seen, 1)
	evt := h.seen[0]
	assert.Equal(t, "lead-1", evt.LeadID)
	assert.Equal(t, events.TriggerFollowupDue, evt.Trigger)
	assert.Equal(t, CorrelationID(task), evt.CorrelationID)
	require.NoError(t, evt.Validate())

	_, ok := store.Pending("lead-1")
	assert.False(t, ok)
	_, ok = store.Pending("lead-2")
	assert.True(t, ok)
}

func TestDispatcherDefersBlockedTask(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task := mustTask(t, "lead-1", t0, 20)
	require.NoError(t, store.Upsert(ctx, task))

	reopen := t0.Add(5 * time.Hour)
	h := &scriptedHandler{result: func(evt events.Inbound) (*conversation.Result, error) {
		return &conversation.Result{
			LeadID:     evt.LeadID,
			Outcome:    conversation.OutcomeBlocked,
			Compliance: compliance.Result{Reason: compliance.ReasonQuietHours, RetryAt: reopen},
			RetryAt:    reopen,
		}, nil
	}}
	d := newTestDispatcher(store, h)
	d.Drain(ctx)

	got, ok := store.Pending("lead-1")
	require.True(t, ok)
	assert.Equal(t, reopen, got.DueAt)
	assert.Equal(t, 1, got.Generation)
	assert.NotEqual(t, CorrelationID(task), CorrelationID(got), "deferred firing gets a new correlation id")
}

func TestDispatcherDropsTaskBlockedForGood(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, mustTask(t, "lead-1", t0, 20)))

	h := &scriptedHandler{result: func(evt events.Inbound) (*conversation.Result, error) {
		return &conversation.Result{
			LeadID:     evt.LeadID,
			Outcome:    conversation.OutcomeBlocked,
			Compliance: compliance.Result{Reason: compliance.ReasonOptedOut},
		}, nil
	}}
	newTestDispatcher(store, h).Drain(ctx)

	_, ok := store.Pending("lead-1")
	assert.False(t, ok)
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, mustTask(t, "lead-1", t0, 20)))

	h := &scriptedHandler{result: func(evt events.Inbound) (*conversation.Result, error) {
		return nil, errors.New("database unavailable")
	}}
	d := newTestDispatcher(store, h).WithRetryDelay(time.Minute).WithMaxAttempts(2)

	d.Drain(ctx)
	got, ok := store.Pending("lead-1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), got.DueAt)

	d.now = func() time.Time { return t0.Add(time.Minute) }
	d.Drain(ctx)
	_, ok = store.Pending("lead-1")
	assert.False(t, ok, "task is dropped after max attempts")
	require.Len(t, h.seen, 2)
	assert.Equal(t, h.seen[0].CorrelationID, h.seen[1].CorrelationID, "retries replay the same firing")
}

func TestDispatcherDropsPermanentFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, mustTask(t, "lead-1", t0, 20)))

	h := &scriptedHandler{result: func(evt events.Inbound) (*conversation.Result, error) {
		return nil, &conversation.Error{Kind: conversation.KindValidation, Op: "handle", LeadID: evt.LeadID, Err: events.ErrInvalidEvent}
	}}
	newTestDispatcher(store, h).Drain(ctx)

	_, ok := store.Pending("lead-1")
	assert.False(t, ok)
}
