package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaizen403/vivavoce/internal/review"
)

const ddlCheckpoints = `
CREATE TABLE IF NOT EXISTS session_checkpoints (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    node        TEXT         NOT NULL DEFAULT '',
    phase       TEXT         NOT NULL,
    reason      TEXT         NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    snapshot    JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_checkpoints_session_created
    ON session_checkpoints (session_id, created_at);
`

// PostgresStore is a Store implementation backed by PostgreSQL. Snapshots are
// serialised as JSONB; the per-session ring cap is enforced by deleting rows
// beyond the cap on every save.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
	keep int
}

// Compile-time check that *PostgresStore satisfies Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps pool, ensures the checkpoint table exists, and
// retains keep snapshots per session (DefaultKeep when non-positive).
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, keep int) (*PostgresStore, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if _, err := pool.Exec(ctx, ddlCheckpoints); err != nil {
		return nil, fmt.Errorf("checkpoint postgres: migrate: %w", err)
	}
	return &PostgresStore{pool: pool, keep: keep}, nil
}

// Save implements Store.
func (p *PostgresStore) Save(ctx context.Context, state *review.State, meta Meta) (string, error) {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("checkpoint postgres: marshal snapshot: %w", err)
	}

	id := uuid.NewString()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO session_checkpoints (id, session_id, node, phase, reason, description, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, state.SessionID, meta.Node, string(state.Phase), string(meta.Reason), meta.Description, snapshot,
	)
	if err != nil {
		return "", fmt.Errorf("checkpoint postgres: save: %w", err)
	}

	// Evict everything beyond the ring cap, oldest first.
	_, err = p.pool.Exec(ctx, `
		DELETE FROM session_checkpoints
		WHERE session_id = $1
		  AND id NOT IN (
		      SELECT id FROM session_checkpoints
		      WHERE session_id = $1
		      ORDER BY created_at DESC
		      LIMIT $2
		  )`,
		state.SessionID, p.keep,
	)
	if err != nil {
		return "", fmt.Errorf("checkpoint postgres: evict: %w", err)
	}
	return id, nil
}

// Latest implements Store.
func (p *PostgresStore) Latest(ctx context.Context, sessionID string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, session_id, created_at, node, phase, reason, description, snapshot
		FROM   session_checkpoints
		WHERE  session_id = $1
		ORDER  BY created_at DESC
		LIMIT  1`, sessionID)
	return scanEntry(row)
}

// ByID implements Store.
func (p *PostgresStore) ByID(ctx context.Context, sessionID, id string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, session_id, created_at, node, phase, reason, description, snapshot
		FROM   session_checkpoints
		WHERE  session_id = $1 AND id = $2`, sessionID, id)
	return scanEntry(row)
}

// List implements Store.
func (p *PostgresStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, created_at, node, phase, reason, description
		FROM   session_checkpoints
		WHERE  session_id = $1
		ORDER  BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: list: %w", err)
	}

	metas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Meta, error) {
		var (
			m      Meta
			phase  string
			reason string
		)
		if err := row.Scan(&m.ID, &m.SessionID, &m.CreatedAt, &m.Node, &phase, &reason, &m.Description); err != nil {
			return Meta{}, err
		}
		m.Phase = review.Phase(phase)
		m.Reason = Reason(reason)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: scan rows: %w", err)
	}
	return metas, nil
}

// Clear implements Store.
func (p *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM session_checkpoints WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("checkpoint postgres: clear: %w", err)
	}
	return nil
}

// scanEntry decodes one checkpoint row.
func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		phase    string
		reason   string
		snapshot []byte
		created  time.Time
	)
	err := row.Scan(&e.Meta.ID, &e.Meta.SessionID, &created, &e.Meta.Node, &phase, &reason, &e.Meta.Description, &snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: scan: %w", err)
	}
	e.Meta.CreatedAt = created
	e.Meta.Phase = review.Phase(phase)
	e.Meta.Reason = Reason(reason)

	var state review.State
	if err := json.Unmarshal(snapshot, &state); err != nil {
		return nil, fmt.Errorf("checkpoint postgres: unmarshal snapshot: %w", err)
	}
	e.Snapshot = &state
	return &e, nil
}
