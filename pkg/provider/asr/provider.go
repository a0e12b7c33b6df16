// Package asr defines the Provider interface for streaming speech recognition
// backends.
//
// An ASR provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// two streams of Transcript values — low-latency partials for responsiveness
// and authoritative finals for the dialogue loop.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package asr

import (
	"context"

	"github.com/kaizen403/vivavoce/pkg/types"
)

// StreamConfig describes the audio format and recognition options for a new
// ASR session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000 (ASR-optimised
	// mono), 48000 (room Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most ASR
	// providers). Implementors may downmix stereo internally.
	Channels int

	// Model selects a provider-specific recognition model (e.g., "nova-3").
	// An empty string uses the provider default.
	Model string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Punctuate requests automatic punctuation in transcripts.
	Punctuate bool

	// SmartFormat requests provider-side formatting of numbers, dates, and
	// currency. Ignored by providers without an equivalent feature.
	SmartFormat bool

	// Diarize requests speaker diarization; when active, transcripts carry a
	// SpeakerID.
	Diarize bool

	// Utterances requests utterance-level segmentation from the provider
	// rather than fixed-window results.
	Utterances bool

	// EndpointingMs is the provider-side silence window, in milliseconds,
	// after which an utterance is finalised. Zero uses the provider default.
	EndpointingMs int
}

// SessionHandle represents an open ASR streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and bit-depth
	// agreed in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim Transcript
	// values as the provider makes preliminary guesses. These are suitable for
	// driving interim-utterance events but must not be written to the session
	// transcript. The channel is closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative Transcript values
	// once the provider has committed to a recognition result. These are the values
	// that drive the dialogue loop and the session transcript.
	// The channel is closed when the session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Partials and Finals channels
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming ASR backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
