package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores each context as a JSONB document with a version
// column used for optimistic concurrency.
type PostgresRepository struct {
	db pgExecutor
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithExec(db pgExecutor) *PostgresRepository {
	if db == nil {
		panic("leads: exec required")
	}
	return &PostgresRepository{db: db}
}

// Load fetches the context document for a lead.
func (r *PostgresRepository) Load(ctx context.Context, leadID string) (*ConversationContext, error) {
	query := `SELECT version, document FROM conversation_contexts WHERE lead_id = $1`
	var (
		version int64
		doc     []byte
	)
	if err := r.db.QueryRow(ctx, query, leadID).Scan(&version, &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select context: %w", err)
	}
	var lc ConversationContext
	if err := json.Unmarshal(doc, &lc); err != nil {
		return nil, fmt.Errorf("leads: decode context: %w", err)
	}
	lc.Version = version
	return &lc, nil
}

// Save inserts or conditionally updates the document.
func (r *PostgresRepository) Save(ctx context.Context, lc *ConversationContext, expectedVersion int64) error {
	if lc == nil || lc.LeadID == "" {
		return ErrMissingLeadID
	}
	next := *lc
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("leads: encode context: %w", err)
	}

	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		tag, err = r.db.Exec(ctx, `
			INSERT INTO conversation_contexts (lead_id, version, state, document, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (lead_id) DO NOTHING
		`, lc.LeadID, next.Version, string(lc.State), doc, lc.UpdatedAt)
	} else {
		tag, err = r.db.Exec(ctx, `
			UPDATE conversation_contexts
			SET version = $2, state = $3, document = $4, updated_at = $5
			WHERE lead_id = $1 AND version = $6
		`, lc.LeadID, next.Version, string(lc.State), doc, lc.UpdatedAt, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("leads: save context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	lc.Version = next.Version
	return nil
}
