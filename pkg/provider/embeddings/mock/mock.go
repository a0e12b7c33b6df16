// Package mock provides a deterministic test double for the embeddings.Provider
// interface.
//
// Vectors are derived from the input text via a simple hash so that identical
// texts always embed identically and different texts (almost always) differ —
// enough structure for retrieval tests without a live backend.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/kaizen403/vivavoce/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimensionality. Defaults to 1536 when zero.
	Dim int

	// EmbedErr, if non-nil, is returned by every Embed and EmbedBatch call.
	EmbedErr error

	// FailTexts maps exact input texts to the error Embed returns for them.
	// Used to exercise the per-chunk skip path in ingestion.
	FailTexts map[string]error

	// EmbedCalls records every single-text Embed input in order.
	EmbedCalls []string

	// BatchCalls records every EmbedBatch input in order.
	BatchCalls [][]string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	err := p.EmbedErr
	if err == nil && p.FailTexts != nil {
		err = p.FailTexts[text]
	}
	dim := p.dim()
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return vectorFor(text, dim), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.BatchCalls = append(p.BatchCalls, cp)
	err := p.EmbedErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim()
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embedding" }

func (p *Provider) dim() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 1536
}

// vectorFor derives a unit-norm vector deterministically from text.
func vectorFor(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift over the seed for a stable pseudo-random sequence.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
