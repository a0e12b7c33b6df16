package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaizen403/vivavoce/internal/review"
)

// MemoryStore is an in-process Store implementation holding a bounded ring of
// snapshots per session. All methods are safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	keep int
	// entries maps session id → ring of entries, oldest first.
	entries map[string][]Entry

	// now is overridable in tests.
	now func() time.Time
}

// Compile-time check that *MemoryStore satisfies Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore retaining keep snapshots per session.
// A non-positive keep falls back to DefaultKeep.
func NewMemoryStore(keep int) *MemoryStore {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &MemoryStore{
		keep:    keep,
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state *review.State, meta Meta) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta.ID = uuid.NewString()
	meta.SessionID = state.SessionID
	meta.CreatedAt = m.now()
	meta.Phase = state.Phase

	ring := m.entries[state.SessionID]
	ring = append(ring, Entry{Meta: meta, Snapshot: state.Clone()})
	if len(ring) > m.keep {
		ring = ring[len(ring)-m.keep:]
	}
	m.entries[state.SessionID] = ring

	return meta.ID, nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, sessionID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.entries[sessionID]
	if len(ring) == 0 {
		return nil, ErrNotFound
	}
	return copyEntry(ring[len(ring)-1]), nil
}

// ByID implements Store.
func (m *MemoryStore) ByID(_ context.Context, sessionID, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries[sessionID] {
		if e.Meta.ID == id {
			return copyEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, sessionID string) ([]Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.entries[sessionID]
	metas := make([]Meta, len(ring))
	for i, e := range ring {
		metas[i] = e.Meta
	}
	return metas, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

// copyEntry returns an Entry whose snapshot is independent of the stored one.
func copyEntry(e Entry) *Entry {
	return &Entry{Meta: e.Meta, Snapshot: e.Snapshot.Clone()}
}
