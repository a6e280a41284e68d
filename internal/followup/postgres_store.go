package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps follow-ups in the followups table, one row per lead.
// ClaimDue uses FOR UPDATE SKIP LOCKED so several dispatchers can poll the
// same table.
type PostgresStore struct {
	db rowQuerier
}

// NewPostgresStore builds a pgx-backed Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("followup: pgx pool cannot be nil")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("followup: exec cannot be nil")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, task Task) error {
	if task.LeadID == "" {
		return ErrMissingLeadID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO followups (id, lead_id, due_at, priority, reason, attempts, generation, claimed_until, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, NULL, $6)
		ON CONFLICT (lead_id) DO UPDATE
		SET id = EXCLUDED.id,
		    due_at = EXCLUDED.due_at,
		    priority = EXCLUDED.priority,
		    reason = EXCLUDED.reason,
		    attempts = 0,
		    generation = 0,
		    claimed_until = NULL,
		    created_at = EXCLUDED.created_at
	`, task.ID, task.LeadID, task.DueAt, task.Priority, task.Reason, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("followup: upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) CancelLead(ctx context.Context, leadID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM followups WHERE lead_id = $1`, leadID); err != nil {
		return fmt.Errorf("followup: cancel lead: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.Query(ctx, `
		UPDATE followups
		SET claimed_until = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM followups
			WHERE due_at <= $1 AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY priority DESC, due_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, lead_id, due_at, priority, reason, attempts, generation, claimed_until, created_at
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("followup: claim due: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var (
			t       Task
			reason  pgtype.Text
			claimed pgtype.Timestamptz
		)
		if err := rows.Scan(&t.ID, &t.LeadID, &t.DueAt, &t.Priority, &reason, &t.Attempts, &t.Generation, &claimed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("followup: scan task: %w", err)
		}
		t.Reason = reason.String
		if claimed.Valid {
			t.ClaimedUntil = claimed.Time
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("followup: read tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM followups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("followup: complete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id string, dueAt time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE followups SET due_at = $2, claimed_until = NULL WHERE id = $1`, id, dueAt); err != nil {
		return fmt.Errorf("followup: reschedule task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Defer(ctx context.Context, id string, dueAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE followups
		SET due_at = $2, claimed_until = NULL, attempts = 0, generation = generation + 1
		WHERE id = $1
	`, id, dueAt)
	if err != nil {
		return fmt.Errorf("followup: defer task: %w", err)
	}
	return nil
}
