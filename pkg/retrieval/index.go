package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaizen403/vivavoce/pkg/provider/embeddings"
)

// Store is the durable chunk storage behind an Index. The postgres subpackage
// provides the production implementation; the mock subpackage provides an
// in-memory one for tests and development.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// UpsertChunks writes the chunks durably, idempotent by
	// (SessionID, Index): re-writing the same key replaces the row.
	UpsertChunks(ctx context.Context, chunks []Chunk) error

	// Search returns the topK chunks of the session closest to vector by
	// cosine similarity, ordered most similar first. An empty corpus yields
	// an empty slice, not an error.
	Search(ctx context.Context, sessionID string, vector []float32, topK int) ([]SearchResult, error)

	// FirstChunks returns up to k chunks of the session in ingestion order.
	// Used as the deterministic fallback when semantic search yields nothing.
	FirstChunks(ctx context.Context, sessionID string, k int) ([]SearchResult, error)

	// DeleteSession removes all chunks of the session and returns the count.
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// Index composes parsing, chunking, embedding, and storage into the artifact
// retrieval surface used by the orchestrator and the reasoner.
//
// All methods are safe for concurrent use.
type Index struct {
	parser   *Parser
	chunker  *Chunker
	embedder embeddings.Provider
	store    Store

	// useMockSlides substitutes the fixed development deck for real parsing.
	// Development only; never enabled in production configuration.
	useMockSlides bool
}

// IndexOption configures an Index during construction.
type IndexOption func(*Index)

// WithChunker overrides the default chunker (2000-char budget, 200-char overlap).
func WithChunker(c *Chunker) IndexOption {
	return func(ix *Index) { ix.chunker = c }
}

// WithMockSlides makes Ingest use the fixed development slide deck instead of
// parsing the artifact text. For local development only.
func WithMockSlides() IndexOption {
	return func(ix *Index) { ix.useMockSlides = true }
}

// NewIndex creates an Index over the given embedder and store.
func NewIndex(embedder embeddings.Provider, store Store, opts ...IndexOption) *Index {
	ix := &Index{
		parser:   NewParser(),
		chunker:  NewChunker(DefaultChunkBudget, DefaultOverlap),
		embedder: embedder,
		store:    store,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Ingest parses artifactText into slides, chunks and embeds them, and stores
// the result for sessionID. It is idempotent: re-ingesting the same artifact
// yields the same (session, chunk index) rows.
//
// Individual chunk embedding failures are skipped with a log line; if no chunk
// embeds at all, Ingest fails with ErrEmbed. An artifact with no parseable
// content fails with ErrParse.
func (ix *Index) Ingest(ctx context.Context, sessionID, artifactText string) error {
	slides := ix.parser.Parse(artifactText)
	if ix.useMockSlides {
		slides = MockSlides
	}
	if len(slides) == 0 {
		return fmt.Errorf("%w: artifact produced no slides", ErrParse)
	}

	chunks := ix.chunker.Chunk(sessionID, slides)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: slides produced no chunks", ErrParse)
	}

	embedded, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	if err := ix.store.UpsertChunks(ctx, embedded); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	slog.Info("artifact ingested",
		"session_id", sessionID,
		"slides", len(slides),
		"chunks", len(embedded),
	)
	return nil
}

// embedChunks embeds all chunk texts, preferring one batch call and falling
// back to per-chunk embedding (with skips) when the batch fails.
func (ix *Index) embedChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, batchErr := ix.embedder.EmbedBatch(ctx, texts)
	if batchErr == nil && len(vectors) == len(chunks) {
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
		return chunks, nil
	}
	if batchErr != nil {
		slog.Warn("batch embedding failed, falling back to per-chunk",
			"err", batchErr)
	}

	var embedded []Chunk
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		vec, err := ix.embedder.Embed(ctx, c.Text)
		if err != nil {
			slog.Warn("skipping chunk after embedding failure",
				"session_id", c.SessionID,
				"chunk_index", c.Index,
				"err", err)
			continue
		}
		c.Embedding = vec
		embedded = append(embedded, c)
	}
	if len(embedded) == 0 {
		return nil, fmt.Errorf("%w: no chunk could be embedded", ErrEmbed)
	}
	return embedded, nil
}

// Search returns the top-k chunks for queryText by cosine similarity. When
// semantic search yields nothing (empty corpus or no query match), it falls
// back to the first k chunks by ingestion order with zero similarity, so the
// caller always has deterministic context if any chunks exist.
func (ix *Index) Search(ctx context.Context, sessionID, queryText string, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	vec, err := ix.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	results, err := ix.store.Search(ctx, sessionID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	if len(results) > 0 {
		for i := range results {
			results[i].Similarity = clamp01(results[i].Similarity)
		}
		return results, nil
	}

	fallback, err := ix.store.FirstChunks(ctx, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: fallback: %w", err)
	}
	return fallback, nil
}

// ContextFor formats the top maxChunks hits for queryText as prompt context.
// Each hit is rendered with a "[Slide N: Title] (relevance X%)" header. With
// zero stored chunks the result is the empty string.
func (ix *Index) ContextFor(ctx context.Context, sessionID, queryText string, maxChunks int) (string, error) {
	results, err := ix.Search(ctx, sessionID, queryText, maxChunks)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		header := fmt.Sprintf("[Slide %d", r.SlideNumber)
		if r.SlideTitle != "" {
			header += ": " + r.SlideTitle
		}
		header += fmt.Sprintf("] (relevance %.0f%%)", r.Similarity*100)
		sb.WriteString(header)
		sb.WriteString("\n")
		sb.WriteString(r.Text)
	}
	return sb.String(), nil
}

// Delete removes all chunks of the session and returns how many were deleted.
func (ix *Index) Delete(ctx context.Context, sessionID string) (int64, error) {
	n, err := ix.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("retrieval: delete: %w", err)
	}
	return n, nil
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
