package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kaizen403/vivavoce/internal/review"
)

// DefaultInterval is the periodic checkpoint cadence.
const DefaultInterval = 60 * time.Second

// Ticker drives periodic checkpoint saves for one session. It is started when
// the session connects and stopped on termination.
//
// The snapshot function is called on every tick to obtain a consistent copy of
// the live state; it runs on the ticker goroutine, so it must do its own
// synchronisation with the state owner.
type Ticker struct {
	store    Store
	interval time.Duration
	snapshot func() *review.State

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTicker creates a Ticker saving to store every interval. A non-positive
// interval falls back to DefaultInterval.
func NewTicker(store Store, interval time.Duration, snapshot func() *review.State) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		store:    store,
		interval: interval,
		snapshot: snapshot,
	}
}

// Start begins periodic checkpointing in a background goroutine. Calling Start
// on a running ticker is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.running = true
	go t.loop(ctx)
}

// Stop halts periodic checkpointing and waits for the in-flight tick, if any,
// to finish. Calling Stop on a stopped ticker is a no-op.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// loop saves a periodic checkpoint every interval until the context ends.
func (t *Ticker) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := t.snapshot()
			if state == nil {
				continue
			}
			if _, err := t.store.Save(ctx, state, Meta{
				Node:   "periodic",
				Reason: ReasonPeriodic,
			}); err != nil && ctx.Err() == nil {
				slog.Warn("periodic checkpoint failed",
					"session_id", state.SessionID,
					"err", err)
			}
		}
	}
}
