package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/kaizen403/vivavoce/pkg/provider/fault"
)

// RetryConfig holds the backoff parameters for [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// Initial is the delay before the first retry. Default: 1s.
	Initial time.Duration

	// Max caps the delay between retries. Default: 10s.
	Max time.Duration

	// Multiplier scales the delay after each attempt. Default: 2.
	Multiplier float64

	// Jitter is the fraction of the delay randomised in both directions
	// (0.1 = ±10%). Default: 0.1.
	Jitter float64
}

// DefaultRetry returns the generic provider retry policy: 3 attempts, 1s
// initial delay, 10s cap, doubling, ±10% jitter.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Initial:     1 * time.Second,
		Max:         10 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// LLMRetry returns the LLM retry policy, which backs off more slowly:
// 3 attempts, 2s initial delay, 15s cap.
func LLMRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Initial:     2 * time.Second,
		Max:         15 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// withDefaults fills zero-valued fields with the generic defaults.
func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetry()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Initial <= 0 {
		c.Initial = d.Initial
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Multiplier <= 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter <= 0 {
		c.Jitter = d.Jitter
	}
	return c
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping with exponential backoff
// and jitter between attempts. Only errors the fault package classifies as
// retryable (transient, timeout) trigger another attempt; permanent and
// unclassified errors — including [ErrCircuitOpen] — return immediately.
//
// The context is checked before every attempt and during every backoff sleep;
// cancellation returns ctx.Err() itself, without the last attempt's error.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	delay := cfg.Initial
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !fault.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := jittered(delay, cfg.Jitter)
		slog.Debug("retrying after transient failure",
			"attempt", attempt,
			"sleep", sleep,
			"err", lastErr)

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.Max {
			delay = cfg.Max
		}
	}
	return lastErr
}

// jittered randomises d by ±(jitter * d).
func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * spread
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		return 0
	}
	return out
}
