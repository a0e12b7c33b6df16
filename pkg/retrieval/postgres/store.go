// Package postgres provides a PostgreSQL-backed retrieval.Store using pgx and
// the pgvector extension for approximate cosine-similarity search.
//
// All methods share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.UpsertChunks(ctx, chunks)
//	results, _ := store.Search(ctx, sessionID, queryVec, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/kaizen403/vivavoce/pkg/retrieval"
)

// Store implements retrieval.Store on PostgreSQL + pgvector.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check that *Store satisfies retrieval.Store.
var _ retrieval.Store = (*Store)(nil)

// NewStore connects to the database at dsn, runs [Migrate] with the given
// embedding dimension, and returns a ready Store.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("retrieval postgres: connect: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an existing pool without running migrations. The
// caller is responsible for having called [Migrate].
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertChunks implements retrieval.Store. Rows are keyed by
// (session_id, chunk_index); re-ingesting replaces the previous row.
func (s *Store) UpsertChunks(ctx context.Context, chunks []retrieval.Chunk) error {
	const q = `
		INSERT INTO artifact_chunks
		    (id, session_id, slide_number, slide_title, content, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, chunk_index) DO UPDATE SET
		    slide_number = EXCLUDED.slide_number,
		    slide_title  = EXCLUDED.slide_title,
		    content      = EXCLUDED.content,
		    embedding    = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(q,
			uuid.NewString(),
			c.SessionID,
			c.SlideNumber,
			c.SlideTitle,
			c.Text,
			c.Index,
			pgvector.NewVector(c.Embedding),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("retrieval postgres: upsert chunk: %w", err)
		}
	}
	return nil
}

// Search implements retrieval.Store. It finds the topK chunks of the session
// whose embeddings are closest (cosine distance) to vector and maps distance d
// to similarity 1 − d.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) Search(ctx context.Context, sessionID string, vector []float32, topK int) ([]retrieval.SearchResult, error) {
	const q = `
		SELECT slide_number, slide_title, content,
		       embedding <=> $1 AS distance
		FROM   artifact_chunks
		WHERE  session_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), sessionID, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval postgres: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.SearchResult, error) {
		var (
			sr       retrieval.SearchResult
			distance float64
		)
		if err := row.Scan(&sr.SlideNumber, &sr.SlideTitle, &sr.Text, &distance); err != nil {
			return retrieval.SearchResult{}, err
		}
		sr.Similarity = 1 - distance
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []retrieval.SearchResult{}
	}
	return results, nil
}

// FirstChunks implements retrieval.Store: up to k chunks in ingestion order,
// with zero similarity.
func (s *Store) FirstChunks(ctx context.Context, sessionID string, k int) ([]retrieval.SearchResult, error) {
	const q = `
		SELECT slide_number, slide_title, content
		FROM   artifact_chunks
		WHERE  session_id = $1
		ORDER  BY chunk_index
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval postgres: first chunks: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.SearchResult, error) {
		var sr retrieval.SearchResult
		if err := row.Scan(&sr.SlideNumber, &sr.SlideTitle, &sr.Text); err != nil {
			return retrieval.SearchResult{}, err
		}
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []retrieval.SearchResult{}
	}
	return results, nil
}

// DeleteSession implements retrieval.Store.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifact_chunks WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("retrieval postgres: delete session: %w", err)
	}
	return tag.RowsAffected(), nil
}
