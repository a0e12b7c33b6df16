package energy

import (
	"encoding/binary"
	"testing"

	"github.com/kaizen403/vivavoce/pkg/provider/vad"
	"github.com/kaizen403/vivavoce/pkg/types"
)

func defaultConfig() vad.Config {
	return vad.Config{
		SampleRate:            16000,
		FrameSizeMs:           20,
		ActivationThreshold:   0.5,
		DeactivationThreshold: 0.35,
	}
}

// frame builds a 20ms 16kHz mono PCM frame with constant amplitude.
func frame(amplitude int16) []byte {
	samples := 16000 * 20 / 1000
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestNewSession_Validation(t *testing.T) {
	e := New()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{FrameSizeMs: 20, ActivationThreshold: 0.5}},
		{"zero frame size", vad.Config{SampleRate: 16000, ActivationThreshold: 0.5}},
		{"activation out of range", vad.Config{SampleRate: 16000, FrameSizeMs: 20, ActivationThreshold: 1.5}},
		{"deactivation above activation", vad.Config{SampleRate: 16000, FrameSizeMs: 20, ActivationThreshold: 0.4, DeactivationThreshold: 0.6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.NewSession(tt.cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}
}

func TestProcessFrame_WrongSize(t *testing.T) {
	e := New()
	s, err := e.NewSession(defaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected frame size error")
	}
}

func TestSpeechStartAndEnd(t *testing.T) {
	e := New()
	s, err := e.NewSession(defaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Silence frames first to settle the noise floor.
	for i := 0; i < 5; i++ {
		ev, err := s.ProcessFrame(frame(50))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != types.VADSilence {
			t.Fatalf("frame %d: type = %v, want silence", i, ev.Type)
		}
	}

	// A loud frame should trigger speech start.
	ev, err := s.ProcessFrame(frame(8000))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != types.VADSpeechStart {
		t.Fatalf("type = %v, want speech start", ev.Type)
	}
	if ev.Probability < 0.5 {
		t.Errorf("probability = %v, want >= activation threshold", ev.Probability)
	}

	// Continued speech.
	ev, _ = s.ProcessFrame(frame(8000))
	if ev.Type != types.VADSpeechContinue {
		t.Fatalf("type = %v, want speech continue", ev.Type)
	}

	// Back to silence ends the segment.
	ev, _ = s.ProcessFrame(frame(50))
	if ev.Type != types.VADSpeechEnd {
		t.Fatalf("type = %v, want speech end", ev.Type)
	}
}

func TestReset_ClearsSpeechState(t *testing.T) {
	e := New()
	s, _ := e.NewSession(defaultConfig())

	_, _ = s.ProcessFrame(frame(50))
	_, _ = s.ProcessFrame(frame(8000)) // start speech
	s.Reset()

	ev, err := s.ProcessFrame(frame(50))
	if err != nil {
		t.Fatalf("ProcessFrame after reset: %v", err)
	}
	if ev.Type != types.VADSilence {
		t.Errorf("type = %v, want silence after reset", ev.Type)
	}
}

func TestClose(t *testing.T) {
	e := New()
	s, _ := e.NewSession(defaultConfig())

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(frame(50)); err == nil {
		t.Error("expected error after close")
	}
}

func TestPreload_NoOp(t *testing.T) {
	if err := New().Preload(); err != nil {
		t.Fatalf("Preload: %v", err)
	}
}
