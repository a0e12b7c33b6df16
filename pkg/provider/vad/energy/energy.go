// Package energy provides a dependency-free VAD engine based on short-term
// signal energy. It implements the vad.Engine interface.
//
// Each frame's RMS energy is mapped to a speech probability against a noise
// floor the session adapts during silence. Energy VAD is less robust than a
// model-based detector in noisy rooms, but it needs no weights, runs in
// microseconds, and is accurate enough to gate a cloud ASR stream that does
// its own endpointing.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/kaizen403/vivavoce/pkg/provider/vad"
	"github.com/kaizen403/vivavoce/pkg/types"
)

const (
	// noiseAdapt is the exponential smoothing factor for the noise floor.
	noiseAdapt = 0.05

	// initialNoiseFloor is the starting RMS noise estimate for int16 PCM.
	initialNoiseFloor = 200.0
)

// Engine implements vad.Engine using frame RMS energy.
type Engine struct{}

// Ensure Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// New returns a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// Preload implements vad.Engine. The energy detector has no model to load.
func (e *Engine) Preload() error { return nil }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy vad: SampleRate must be positive")
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("energy vad: FrameSizeMs must be positive")
	}
	if cfg.ActivationThreshold <= 0 || cfg.ActivationThreshold > 1 {
		return nil, fmt.Errorf("energy vad: ActivationThreshold %v out of range (0,1]", cfg.ActivationThreshold)
	}
	if cfg.DeactivationThreshold > cfg.ActivationThreshold {
		return nil, fmt.Errorf("energy vad: DeactivationThreshold %v exceeds ActivationThreshold %v",
			cfg.DeactivationThreshold, cfg.ActivationThreshold)
	}

	// 16-bit mono PCM: 2 bytes per sample.
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	return &session{
		cfg:        cfg,
		frameBytes: frameBytes,
		noiseFloor: initialNoiseFloor,
	}, nil
}

// session is a live energy VAD session. It implements vad.SessionHandle.
type session struct {
	mu         sync.Mutex
	cfg        vad.Config
	frameBytes int
	noiseFloor float64
	inSpeech   bool
	closed     bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.VADEvent{}, errors.New("energy vad: session is closed")
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{}, fmt.Errorf("energy vad: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := frameRMS(frame)
	prob := s.probability(rms)

	// Adapt the noise floor during silence only, so sustained speech does not
	// raise the floor and mask itself.
	if prob < s.cfg.DeactivationThreshold {
		s.noiseFloor = (1-noiseAdapt)*s.noiseFloor + noiseAdapt*rms
	}

	var evType types.VADEventType
	switch {
	case !s.inSpeech && prob >= s.cfg.ActivationThreshold:
		s.inSpeech = true
		evType = types.VADSpeechStart
	case s.inSpeech && prob <= s.cfg.DeactivationThreshold:
		s.inSpeech = false
		evType = types.VADSpeechEnd
	case s.inSpeech:
		evType = types.VADSpeechContinue
	default:
		evType = types.VADSilence
	}

	return types.VADEvent{Type: evType, Probability: prob}, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.inSpeech = false
	s.noiseFloor = initialNoiseFloor
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// probability maps the frame RMS to a speech probability relative to the
// adaptive noise floor: 0 at the floor, saturating towards 1 around 20 dB
// above it.
func (s *session) probability(rms float64) float64 {
	if rms <= s.noiseFloor {
		return 0
	}
	ratio := rms / s.noiseFloor
	// log10(ratio)/1.0 maps a 10x energy rise (20 dB amplitude) to 1.0.
	p := math.Log10(ratio)
	if p > 1 {
		p = 1
	}
	return p
}

// frameRMS computes the root-mean-square amplitude of a little-endian int16
// PCM frame.
func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(n))
}
