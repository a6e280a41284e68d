package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedLedger remembers which events were fully handled per lead.
type ProcessedLedger interface {
	AlreadyProcessed(ctx context.Context, leadID, correlationID string) (bool, error)
	MarkProcessed(ctx context.Context, leadID, correlationID, outcome string) (bool, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records handled events in Postgres. It backs the bounded
// in-document ledger for replays that arrive long after the fact.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if we've seen this correlation id for the lead.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, leadID, correlationID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE lead_id = $1 AND correlation_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, leadID, correlationID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts a correlation id for the lead, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, leadID, correlationID, outcome string) (bool, error) {
	query := `
		INSERT INTO processed_events (lead_id, correlation_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, leadID, correlationID, outcome)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MemoryProcessedStore is an in-process ProcessedLedger.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]string)}
}

func (s *MemoryProcessedStore) AlreadyProcessed(_ context.Context, leadID, correlationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[leadID+"\x00"+correlationID]
	return ok, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, leadID, correlationID, outcome string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := leadID + "\x00" + correlationID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = outcome
	return true, nil
}
