// Package followup keeps at most one pending follow-up per lead and fires due
// follow-ups into the conversation engine as scheduled triggers.
package followup

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMissingLeadID is returned when a task has no lead id.
var ErrMissingLeadID = errors.New("followup: lead id required")

// Task is a follow-up due for one lead. ID changes every time the lead's
// follow-up is replaced, so a dispatcher holding a stale task cannot complete
// or move its replacement. Generation counts compliance deferrals; retries
// after a failure keep it.
type Task struct {
	ID           string    `json:"id"`
	LeadID       string    `json:"lead_id"`
	DueAt        time.Time `json:"due_at"`
	Priority     int       `json:"priority"`
	Reason       string    `json:"reason,omitempty"`
	Attempts     int       `json:"attempts"`
	Generation   int       `json:"generation"`
	ClaimedUntil time.Time `json:"claimed_until,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists follow-up tasks.
type Store interface {
	// Upsert replaces the lead's pending task.
	Upsert(ctx context.Context, task Task) error
	// CancelLead removes the lead's pending task, if any.
	CancelLead(ctx context.Context, leadID string) error
	// ClaimDue leases up to limit tasks due at now, highest priority first.
	// Claimed tasks are invisible to other claimers until lease passes.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error)
	// Complete deletes a task by id.
	Complete(ctx context.Context, id string) error
	// Reschedule moves a task to dueAt and drops its lease. The task fires
	// again as the same generation.
	Reschedule(ctx context.Context, id string, dueAt time.Time) error
	// Defer moves a task to dueAt as a new generation with its attempts
	// reset.
	Defer(ctx context.Context, id string, dueAt time.Time) error
}

// NewTask builds a task with a fresh id.
func NewTask(leadID string, dueAt time.Time, priority int, reason string, now time.Time) (Task, error) {
	if strings.TrimSpace(leadID) == "" {
		return Task{}, ErrMissingLeadID
	}
	return Task{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		DueAt:     dueAt.UTC(),
		Priority:  priority,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	byLead map[string]Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byLead: make(map[string]Task)}
}

func (s *MemoryStore) Upsert(_ context.Context, task Task) error {
	if task.LeadID == "" {
		return ErrMissingLeadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task.Attempts = 0
	task.Generation = 0
	task.ClaimedUntil = time.Time{}
	s.byLead[task.LeadID] = task
	return nil
}

func (s *MemoryStore) CancelLead(_ context.Context, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byLead, leadID)
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Task
	for _, t := range s.byLead {
		if t.DueAt.After(now) || t.ClaimedUntil.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].DueAt.Before(due[j].DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Attempts++
		due[i].ClaimedUntil = now.Add(lease)
		s.byLead[due[i].LeadID] = due[i]
	}
	return due, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lead, t := range s.byLead {
		if t.ID == id {
			delete(s.byLead, lead)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Reschedule(_ context.Context, id string, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lead, t := range s.byLead {
		if t.ID == id {
			t.DueAt = dueAt.UTC()
			t.ClaimedUntil = time.Time{}
			s.byLead[lead] = t
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Defer(_ context.Context, id string, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lead, t := range s.byLead {
		if t.ID == id {
			t.DueAt = dueAt.UTC()
			t.ClaimedUntil = time.Time{}
			t.Attempts = 0
			t.Generation++
			s.byLead[lead] = t
			return nil
		}
	}
	return nil
}

// Pending returns the lead's task.
func (s *MemoryStore) Pending(leadID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byLead[leadID]
	return t, ok
}

// Scheduler adapts a Store to the orchestrator's scheduling interface.
type Scheduler struct {
	store Store
	now   func() time.Time
}

// NewScheduler wraps store.
func NewScheduler(store Store) *Scheduler {
	if store == nil {
		panic("followup: store cannot be nil")
	}
	return &Scheduler{store: store, now: time.Now}
}

// Schedule replaces the lead's pending follow-up.
func (s *Scheduler) Schedule(ctx context.Context, leadID string, dueAt time.Time, priority int, reason string) error {
	task, err := NewTask(leadID, dueAt, priority, reason, s.now())
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, task)
}

// CancelLead drops the lead's pending follow-up.
func (s *Scheduler) CancelLead(ctx context.Context, leadID string) error {
	return s.store.CancelLead(ctx, leadID)
}
