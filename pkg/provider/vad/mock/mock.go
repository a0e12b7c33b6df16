// Package mock provides a scriptable test double for the vad package interfaces.
package mock

import (
	"errors"
	"sync"

	"github.com/kaizen403/vivavoce/pkg/provider/vad"
	"github.com/kaizen403/vivavoce/pkg/types"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new empty Session is returned.
	Session *Session

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	// PreloadCalls counts invocations of Preload.
	PreloadCalls int
}

// Preload implements vad.Engine.
func (e *Engine) Preload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PreloadCalls++
	return nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. Events are consumed
// from the scripted list one per ProcessFrame call; when the script runs out,
// silence is reported.
type Session struct {
	mu sync.Mutex

	// Events is the scripted sequence of detection results.
	Events []types.VADEvent

	// ResetCalls counts invocations of Reset.
	ResetCalls int

	closed bool
	next   int
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame([]byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.VADEvent{}, errors.New("mock vad: session is closed")
	}
	if s.next < len(s.Events) {
		ev := s.Events[s.next]
		s.next++
		return ev, nil
	}
	return types.VADEvent{Type: types.VADSilence}, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.next = 0
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
