// Package fault classifies provider errors into the three kinds the retry and
// circuit-breaker wrappers care about: transient, permanent, and timeout.
//
// Provider adapters wrap every vendor failure with [Transient], [Permanent],
// or [Timeout] before returning it. Callers recover the kind with [KindOf];
// the wrapped error chain stays intact for errors.Is / errors.As.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind is the error-kind discriminant attached to provider failures.
type Kind int

const (
	// KindUnknown means the error carries no explicit classification.
	// [KindOf] falls back to inspecting the error chain.
	KindUnknown Kind = iota

	// KindTransient marks failures worth retrying: rate limits, socket
	// resets, 5xx gateway responses.
	KindTransient

	// KindPermanent marks failures that will not succeed on retry: bad
	// requests, auth failures, schema mismatches, quota exhaustion.
	KindPermanent

	// KindTimeout marks a deadline expiry. Retried like a transient
	// failure but tracked separately for observability.
	KindTimeout
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a [Kind]. It implements the standard
// error-chain interfaces so errors.Is and errors.As see through it.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable-transient failure. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure. Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// Timeout wraps err as a deadline failure. Returns nil if err is nil.
func Timeout(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTimeout, Err: err}
}

// KindOf returns the classification of err. Explicitly wrapped errors win;
// otherwise context deadline expiry maps to [KindTimeout] and common network
// failures (reset, refused, net timeouts) map to [KindTransient]. Everything
// else is [KindUnknown] — the retry wrapper treats unknown as non-retryable.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}

	return KindUnknown
}

// Retryable reports whether err is worth retrying under the §4.8 policy:
// transient failures and timeouts are; permanent and unclassified are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// FromStatus classifies an HTTP status code from a provider API into a Kind.
// 429, 502, 503 and 504 are transient; 408 is a timeout; all other non-2xx
// codes are permanent.
func FromStatus(status int) Kind {
	switch status {
	case 429, 502, 503, 504:
		return KindTransient
	case 408:
		return KindTimeout
	default:
		return KindPermanent
	}
}

// WrapStatus wraps err according to [FromStatus]. Returns nil if err is nil.
func WrapStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: FromStatus(status), Err: err}
}
