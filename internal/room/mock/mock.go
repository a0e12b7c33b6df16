// Package mock provides a scriptable in-memory room.Room for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kaizen403/vivavoce/internal/room"
	"github.com/kaizen403/vivavoce/pkg/types"
)

// Room is a mock implementation of room.Room. Tests push frames, data
// messages, and events through the exported channels and inspect the audio
// written back by the pipeline.
type Room struct {
	mu sync.Mutex

	// AudioIn is the channel returned by AudioInput. Tests own it.
	AudioIn chan types.AudioFrame

	// DataCh is the channel returned by DataMessages. Tests own it.
	DataCh chan room.DataMessage

	// EventCh is the channel returned by Events. Tests own it.
	EventCh chan room.Event

	// Written records every chunk passed to WriteAudio.
	Written [][]byte

	// WriteErr, if non-nil, is returned by WriteAudio.
	WriteErr error

	// CloseCallCount counts Close invocations.
	CloseCallCount int

	closed    bool
	closeOnce sync.Once
}

// NewRoom returns a Room with buffered channels.
func NewRoom() *Room {
	return &Room{
		AudioIn: make(chan types.AudioFrame, 256),
		DataCh:  make(chan room.DataMessage, 16),
		EventCh: make(chan room.Event, 16),
	}
}

// AudioInput implements room.Room.
func (r *Room) AudioInput() <-chan types.AudioFrame { return r.AudioIn }

// WriteAudio implements room.Room.
func (r *Room) WriteAudio(_ context.Context, chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.WriteErr != nil {
		return r.WriteErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	r.Written = append(r.Written, cp)
	return nil
}

// DataMessages implements room.Room.
func (r *Room) DataMessages() <-chan room.DataMessage { return r.DataCh }

// Events implements room.Room.
func (r *Room) Events() <-chan room.Event { return r.EventCh }

// Close implements room.Room. It closes all channels exactly once.
func (r *Room) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	r.closeOnce.Do(func() {
		r.closed = true
		close(r.AudioIn)
		close(r.DataCh)
		close(r.EventCh)
	})
	return nil
}

// WrittenChunks returns a snapshot of the audio written so far.
func (r *Room) WrittenChunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.Written))
	copy(out, r.Written)
	return out
}

// Disconnect emits a disconnection event. A no-op after Close.
func (r *Room) Disconnect(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.EventCh <- room.Event{Type: room.Disconnected, Reason: reason}
}

// Ensure Room implements room.Room at compile time.
var _ room.Room = (*Room)(nil)
