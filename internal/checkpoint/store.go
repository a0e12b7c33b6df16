// Package checkpoint persists point-in-time snapshots of review session state
// so a dropped connection or crashed job does not lose the session.
//
// A Store keeps a bounded ring of snapshots per session (default 10); writing
// beyond the cap evicts the oldest. Snapshots are deep copies — restoring one
// yields a value independent of the live state. The memory implementation
// serves tests and single-process runs; the postgres implementation survives
// process restarts.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/kaizen403/vivavoce/internal/review"
)

// DefaultKeep is the number of snapshots retained per session.
const DefaultKeep = 10

// ErrNotFound is returned when no checkpoint matches the query.
var ErrNotFound = errors.New("checkpoint: not found")

// Reason records why a snapshot was taken.
type Reason string

// Checkpoint reasons.
const (
	ReasonPhaseTransition Reason = "phase_transition"
	ReasonBeforeQuestion  Reason = "before_question"
	ReasonAfterEvaluation Reason = "after_evaluation"
	ReasonEmergencyPause  Reason = "emergency_pause"
	ReasonConnectionLost  Reason = "connection_lost"
	ReasonPeriodic        Reason = "periodic"
	ReasonManual          Reason = "manual"
)

// Meta describes one stored snapshot.
type Meta struct {
	// ID uniquely identifies the checkpoint.
	ID string

	// SessionID scopes the checkpoint to one session.
	SessionID string

	// CreatedAt is the wall-clock write time.
	CreatedAt time.Time

	// Node is the workflow node that triggered the save.
	Node string

	// Phase is the session phase at write time.
	Phase review.Phase

	// Reason is why the snapshot was taken.
	Reason Reason

	// Description is optional free text.
	Description string
}

// Entry pairs a snapshot with its metadata.
type Entry struct {
	Meta     Meta
	Snapshot *review.State
}

// Store is the checkpoint persistence interface.
//
// Implementations must deep-copy on save and on load so callers can never
// alias the stored snapshot, and must be safe for concurrent use.
type Store interface {
	// Save stores a snapshot of state and returns the checkpoint id. The
	// oldest snapshot of the session is evicted once the per-session cap is
	// reached.
	Save(ctx context.Context, state *review.State, meta Meta) (string, error)

	// Latest returns the most recent checkpoint of the session, or
	// ErrNotFound when none exists.
	Latest(ctx context.Context, sessionID string) (*Entry, error)

	// ByID returns the identified checkpoint of the session, or ErrNotFound.
	ByID(ctx context.Context, sessionID, id string) (*Entry, error)

	// List returns the session's checkpoint metadata, oldest first.
	List(ctx context.Context, sessionID string) ([]Meta, error)

	// Clear removes every checkpoint of the session.
	Clear(ctx context.Context, sessionID string) error
}
