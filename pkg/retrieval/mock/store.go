// Package mock provides an in-memory retrieval.Store for tests and local
// development. Cosine similarity is computed exactly, so assertions about
// ranking hold without a live pgvector instance.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kaizen403/vivavoce/pkg/retrieval"
)

// Store is an in-memory implementation of retrieval.Store.
// All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	// chunks maps session id → chunk index → chunk.
	chunks map[string]map[int]retrieval.Chunk

	// UpsertErr, if non-nil, is returned by UpsertChunks.
	UpsertErr error

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{chunks: make(map[string]map[int]retrieval.Chunk)}
}

// Compile-time check that *Store satisfies retrieval.Store.
var _ retrieval.Store = (*Store)(nil)

// UpsertChunks implements retrieval.Store.
func (s *Store) UpsertChunks(_ context.Context, chunks []retrieval.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	for _, c := range chunks {
		byIndex, ok := s.chunks[c.SessionID]
		if !ok {
			byIndex = make(map[int]retrieval.Chunk)
			s.chunks[c.SessionID] = byIndex
		}
		byIndex[c.Index] = c
	}
	return nil
}

// Search implements retrieval.Store with exact cosine similarity.
func (s *Store) Search(_ context.Context, sessionID string, vector []float32, topK int) ([]retrieval.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	byIndex := s.chunks[sessionID]
	results := make([]retrieval.SearchResult, 0, len(byIndex))
	for _, c := range byIndex {
		results = append(results, retrieval.SearchResult{
			SlideNumber: c.SlideNumber,
			SlideTitle:  c.SlideTitle,
			Text:        c.Text,
			Similarity:  cosine(vector, c.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// FirstChunks implements retrieval.Store.
func (s *Store) FirstChunks(_ context.Context, sessionID string, k int) ([]retrieval.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIndex := s.chunks[sessionID]
	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	if len(indexes) > k {
		indexes = indexes[:k]
	}

	results := make([]retrieval.SearchResult, 0, len(indexes))
	for _, i := range indexes {
		c := byIndex[i]
		results = append(results, retrieval.SearchResult{
			SlideNumber: c.SlideNumber,
			SlideTitle:  c.SlideTitle,
			Text:        c.Text,
		})
	}
	return results, nil
}

// DeleteSession implements retrieval.Store.
func (s *Store) DeleteSession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.chunks[sessionID]))
	delete(s.chunks, sessionID)
	return n, nil
}

// Chunks returns a snapshot of the stored chunks for a session, in index order.
func (s *Store) Chunks(sessionID string) []retrieval.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIndex := s.chunks[sessionID]
	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]retrieval.Chunk, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, byIndex[i])
	}
	return out
}

// cosine computes cosine similarity between two vectors, clamped to [0, 1].
// Mismatched or zero-length vectors yield 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
