// Package resilience provides the retry, timeout, and circuit-breaker wrappers
// applied to every provider call made by the reasoner and the retrieval index.
//
// The central types are [CircuitBreaker], keyed per provider operation via
// [Registry], and [Call], which composes per-attempt timeouts, exponential
// backoff with jitter, and the breaker into a single wrapper. Retry decisions
// are driven by the fault package's error kinds: transient failures and
// timeouts retry, permanent failures and open circuits surface immediately.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kaizen403/vivavoce/pkg/provider/fault"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open. Execute wraps it as a permanent fault, so the retry layer never
// retries a rejected call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the observable operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — calls are forwarded.
	StateClosed State = iota

	// StateOpen means the breaker has tripped; calls are rejected until the
	// reset window elapses.
	StateOpen

	// StateHalfOpen means the reset window has elapsed and the next call
	// through will run as the recovery probe.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages. Breakers created through
	// [Registry] are named by their provider-operation key
	// (e.g., "llm.structured").
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before the next call
	// is let through as a probe. Default: 30s.
	ResetTimeout time.Duration
}

// CircuitBreaker protects one provider operation from hammering a failing
// backend. Consecutive failures open it; once the reset window passes, a
// single call runs as a probe, and a single successful probe closes the
// circuit again. Only one probe is in flight at a time — concurrent callers
// are rejected until the probe resolves.
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	failures int       // consecutive failures while closed
	openedAt time.Time // zero while closed
	probing  bool      // a recovery probe is in flight
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
	}
}

// Execute runs fn if the breaker allows it. While open it returns
// [ErrCircuitOpen] wrapped as a permanent fault without calling fn; after the
// reset window it admits exactly one call as the recovery probe.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.settle(err)
	return err
}

// admit decides whether a call may proceed, claiming the probe slot when the
// breaker is half-open.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.openedAt.IsZero() {
		return nil
	}
	if time.Since(cb.openedAt) < cb.resetTimeout || cb.probing {
		return fault.Permanent(ErrCircuitOpen)
	}

	cb.probing = true
	slog.Info("circuit breaker probing after reset window", "name", cb.name)
	return nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.probing {
		cb.probing = false
		if err != nil {
			// Failed probe: restart the reset window.
			cb.openedAt = time.Now()
			slog.Warn("circuit breaker re-opened after failed probe",
				"name", cb.name,
				"kind", fault.KindOf(err))
			return
		}
		// One successful probe closes the circuit.
		cb.openedAt = time.Time{}
		cb.failures = 0
		slog.Info("circuit breaker closed after successful probe", "name", cb.name)
		return
	}

	if err == nil {
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.openedAt.IsZero() && cb.failures >= cb.maxFailures {
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures,
			"kind", fault.KindOf(err))
	}
}

// Name returns the breaker's label (the provider-operation key for breakers
// created through [Registry]).
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current [State]. An open breaker whose reset window has
// elapsed reports [StateHalfOpen]; the actual probe is claimed on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case cb.openedAt.IsZero():
		return StateClosed
	case cb.probing || time.Since(cb.openedAt) >= cb.resetTimeout:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure bookkeeping.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.probing = false
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
