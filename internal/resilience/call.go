package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kaizen403/vivavoce/pkg/provider/fault"
)

// Profile couples a retry policy with a per-attempt timeout.
type Profile struct {
	Retry   RetryConfig
	Timeout time.Duration
}

// GenericProfile is the default wrapper policy for non-LLM provider calls:
// 30s per-attempt timeout with the generic retry schedule.
func GenericProfile() Profile {
	return Profile{Retry: DefaultRetry(), Timeout: 30 * time.Second}
}

// LLMProfile is the wrapper policy for LLM calls: 60s per-attempt timeout with
// the slower LLM retry schedule.
func LLMProfile() Profile {
	return Profile{Retry: LLMRetry(), Timeout: 60 * time.Second}
}

// Registry hands out one [CircuitBreaker] per provider-operation key
// (e.g., "llm.structured", "embeddings.batch"), creating breakers lazily with
// a shared configuration.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a Registry whose breakers share cfg (the Name field is
// overridden with each breaker's key).
func NewRegistry(cfg CircuitBreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// For returns the breaker for key, creating it on first use.
func (r *Registry) For(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cfg := r.cfg
		cfg.Name = key
		cb = NewCircuitBreaker(cfg)
		r.breakers[key] = cb
	}
	return cb
}

// Call runs fn under the full §-style wrapper stack: the breaker for key
// rejects immediately while open; each attempt runs under p.Timeout; transient
// failures and timeouts are retried per p.Retry. Open-circuit rejections are
// not retried — [ErrCircuitOpen] is surfaced to the caller as-is.
func Call(ctx context.Context, reg *Registry, key string, p Profile, fn func(context.Context) error) error {
	cb := reg.For(key)

	return Retry(ctx, p.Retry, func(ctx context.Context) error {
		return cb.Execute(func() error {
			attemptCtx := ctx
			var cancel context.CancelFunc
			if p.Timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
				defer cancel()
			}

			err := fn(attemptCtx)
			if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && fault.KindOf(err) == fault.KindUnknown {
				err = fault.Timeout(err)
			}
			return err
		})
	})
}

// CallValue is [Call] for functions that return a value.
func CallValue[T any](ctx context.Context, reg *Registry, key string, p Profile, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Call(ctx, reg, key, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
