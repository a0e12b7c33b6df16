// Package cartesia provides a Cartesia-backed TTS provider using the Cartesia
// streaming WebSocket API. It implements the tts.Provider interface.
package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/kaizen403/vivavoce/pkg/provider/fault"
	"github.com/kaizen403/vivavoce/pkg/provider/tts"
)

const (
	wsEndpoint        = "wss://api.cartesia.ai/tts/websocket"
	apiVersion        = "2024-06-10"
	defaultModel      = "sonic-2"
	defaultSampleRate = 16000
	defaultLanguage   = "en"
)

// Option is a functional option for configuring the Cartesia Provider.
type Option func(*Provider)

// WithModel sets the Cartesia model ID (e.g., "sonic-2", "sonic-turbo").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the PCM output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements tts.Provider backed by the Cartesia streaming API.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
}

// New creates a new Cartesia Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// generationRequest is the JSON payload sent to Cartesia for each text fragment.
// Continue=true keeps the context open so prosody carries across fragments;
// the final message of a context sets Continue=false with empty Transcript.
type generationRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceRef     `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
	ContextID    string       `json:"context_id"`
	Continue     bool         `json:"continue"`
	Speed        float64      `json:"speed,omitempty"`
}

// voiceRef selects a voice by provider id.
type voiceRef struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// outputFormat describes the raw PCM stream Cartesia should emit.
type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// serverMessage is a single message received from Cartesia over the WebSocket.
type serverMessage struct {
	Type      string `json:"type"` // "chunk", "done", "error", "timestamps"
	Data      string `json:"data"` // base64-encoded PCM when Type == "chunk"
	ContextID string `json:"context_id"`
	Error     string `json:"error,omitempty"`
}

// SynthesizeStream opens a WebSocket to Cartesia, pipes text fragments from
// the text channel as one continued generation context, and returns a channel
// emitting raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is
// cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("cartesia: voice.ID must not be empty")
	}

	conn, resp, err := websocket.Dial(ctx, p.buildURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("cartesia: dial: %w", fault.WrapStatus(resp.StatusCode, err))
		}
		return nil, fmt.Errorf("cartesia: dial: %w", fault.Transient(err))
	}

	contextID := newContextID()
	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// Reader goroutine: decode audio chunks until "done" or error.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var sm serverMessage
				if err := json.Unmarshal(msg, &sm); err != nil {
					continue
				}
				switch sm.Type {
				case "chunk":
					pcm, err := base64.StdEncoding.DecodeString(sm.Data)
					if err != nil || len(pcm) == 0 {
						continue
					}
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				case "done", "error":
					return
				}
			}
		}()

		// Writer: forward text fragments as a continued generation context.
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					// Text channel closed — terminate the context so Cartesia
					// flushes remaining audio and sends "done".
					final := p.buildRequest("", voice, contextID, false)
					finalBytes, _ := json.Marshal(final)
					_ = conn.Write(ctx, websocket.MessageText, finalBytes)
					<-readDone
					return
				}
				if fragment == "" {
					continue
				}
				req := p.buildRequest(fragment, voice, contextID, true)
				msgBytes, _ := json.Marshal(req)
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					return
				}
			case <-readDone:
				// Server ended the stream early (error or cancellation).
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// buildURL constructs the WebSocket endpoint URL with auth query parameters.
func (p *Provider) buildURL() string {
	q := url.Values{}
	q.Set("api_key", p.apiKey)
	q.Set("cartesia_version", apiVersion)
	return wsEndpoint + "?" + q.Encode()
}

// buildRequest constructs a generation request for a single text fragment.
func (p *Provider) buildRequest(transcript string, voice tts.Voice, contextID string, more bool) generationRequest {
	lang := voice.Language
	if lang == "" {
		lang = defaultLanguage
	}
	req := generationRequest{
		ModelID:    p.model,
		Transcript: transcript,
		Voice:      voiceRef{Mode: "id", ID: voice.ID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: p.sampleRate,
		},
		Language:  lang,
		ContextID: contextID,
		Continue:  more,
	}
	if voice.Speed > 0 && voice.Speed != 1.0 {
		req.Speed = voice.Speed
	}
	return req
}

// newContextID generates a fresh Cartesia generation-context identifier.
func newContextID() string {
	return "ctx-" + uuid.NewString()
}
