// Package mock provides a test double for the tts.Provider interface.
//
// The mock consumes the text channel like a real provider would and emits one
// synthetic PCM chunk per text fragment, so pipeline tests can assert both the
// text that was synthesised and the audio flow downstream.
package mock

import (
	"context"
	"sync"

	"github.com/kaizen403/vivavoce/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.SynthesizeStream.
type SynthesizeCall struct {
	// Voice is the voice configuration passed to SynthesizeStream.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream before any
	// text is consumed.
	SynthesizeErr error

	// ChunkForText, if non-nil, maps a text fragment to the PCM chunk emitted
	// for it. When nil, a fixed 4-byte placeholder chunk is emitted per fragment.
	ChunkForText func(text string) []byte

	// SynthesizeCalls records every call to SynthesizeStream.
	SynthesizeCalls []SynthesizeCall

	// Texts records every text fragment consumed, across all streams, in order.
	Texts []string
}

// SynthesizeStream records the call, consumes text, and emits one chunk per
// fragment on the returned channel. The channel closes when text closes or ctx
// is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Voice: voice})
	err := p.SynthesizeErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.Texts = append(p.Texts, fragment)
				chunkFn := p.ChunkForText
				p.mu.Unlock()

				chunk := []byte{0, 0, 0, 0}
				if chunkFn != nil {
					chunk = chunkFn(fragment)
				}
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// SpokenTexts returns a snapshot of all text fragments consumed so far.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Texts))
	copy(out, p.Texts)
	return out
}

// Reset clears all recorded calls and texts. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.Texts = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
