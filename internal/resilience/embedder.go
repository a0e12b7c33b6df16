package resilience

import (
	"context"

	"github.com/kaizen403/vivavoce/pkg/provider/embeddings"
)

// resilientEmbedder decorates an embeddings.Provider with the retry, timeout,
// and circuit-breaker stack, so every call from the retrieval index into the
// embedding service runs under the standard wrapper policy.
type resilientEmbedder struct {
	inner   embeddings.Provider
	reg     *Registry
	profile Profile
}

// WrapEmbedder returns p with every call routed through reg under profile.
// The breaker keys are "embeddings.embed" and "embeddings.batch".
func WrapEmbedder(p embeddings.Provider, reg *Registry, profile Profile) embeddings.Provider {
	return &resilientEmbedder{inner: p, reg: reg, profile: profile}
}

// Embed implements embeddings.Provider.
func (r *resilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return CallValue(ctx, r.reg, "embeddings.embed", r.profile, func(ctx context.Context) ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch implements embeddings.Provider.
func (r *resilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return CallValue(ctx, r.reg, "embeddings.batch", r.profile, func(ctx context.Context) ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

// Dimensions implements embeddings.Provider.
func (r *resilientEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (r *resilientEmbedder) ModelID() string { return r.inner.ModelID() }
