package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Repository persists one ConversationContext document per lead id.
//
// Save is an optimistic write: it succeeds only if the stored version equals
// expectedVersion (0 meaning "does not exist yet") and then sets lc.Version to
// expectedVersion+1. Otherwise it returns ErrVersionConflict.
type Repository interface {
	Load(ctx context.Context, leadID string) (*ConversationContext, error)
	Save(ctx context.Context, lc *ConversationContext, expectedVersion int64) error
}

// InMemoryRepository keeps serialized documents in a map, so callers never
// share pointers with the store.
type InMemoryRepository struct {
	mu        sync.RWMutex
	docs      map[string][]byte
	conflicts atomic.Int64
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		docs: make(map[string][]byte),
	}
}

// Load returns a copy of the stored context.
func (r *InMemoryRepository) Load(ctx context.Context, leadID string) (*ConversationContext, error) {
	r.mu.RLock()
	data, ok := r.docs[leadID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrLeadNotFound
	}
	var lc ConversationContext
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, fmt.Errorf("leads: decode context: %w", err)
	}
	return &lc, nil
}

// Save writes lc if the stored version matches expectedVersion.
func (r *InMemoryRepository) Save(ctx context.Context, lc *ConversationContext, expectedVersion int64) error {
	if lc == nil || lc.LeadID == "" {
		return ErrMissingLeadID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if data, ok := r.docs[lc.LeadID]; ok {
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("leads: decode context: %w", err)
		}
		current = stored.Version
	}
	if current != expectedVersion {
		r.conflicts.Add(1)
		return ErrVersionConflict
	}

	next := *lc
	next.Version = expectedVersion + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("leads: encode context: %w", err)
	}
	r.docs[lc.LeadID] = data
	lc.Version = next.Version
	return nil
}

// Conflicts reports how many saves were rejected for a stale version.
func (r *InMemoryRepository) Conflicts() int64 {
	return r.conflicts.Load()
}

// LeadIDs lists every stored lead.
func (r *InMemoryRepository) LeadIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids
}
