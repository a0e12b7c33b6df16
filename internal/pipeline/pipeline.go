// Package pipeline binds a media-server room to the streaming voice trio:
// candidate audio is gated through VAD endpointing into the ASR session, and
// reviewer utterances are synthesised through TTS into the room, one at a
// time so the transcript reflects actual spoken order.
//
// The pipeline surfaces a single ordered event channel to its consumer and a
// blocking AwaitFinalUtterance used by the workflow's answer turns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaizen403/vivavoce/internal/observe"
	"github.com/kaizen403/vivavoce/internal/room"
	"github.com/kaizen403/vivavoce/internal/workflow"
	"github.com/kaizen403/vivavoce/pkg/provider/asr"
	"github.com/kaizen403/vivavoce/pkg/provider/tts"
	"github.com/kaizen403/vivavoce/pkg/provider/vad"
	"github.com/kaizen403/vivavoce/pkg/types"
)

// ErrClosed is returned by operations on a closed pipeline.
var ErrClosed = errors.New("pipeline: closed")

// Config tunes the pipeline's audio handling and endpointing behaviour.
type Config struct {
	// SampleRate of the candidate audio in Hz. Default 16000.
	SampleRate int

	// FrameMs is the VAD frame size in milliseconds. Default 20.
	FrameMs int

	// ASR is the recognition configuration for the session.
	ASR asr.StreamConfig

	// Voice is the reviewer's synthesis voice.
	Voice tts.Voice

	// ActivationThreshold is the VAD speech probability threshold. Default 0.5.
	ActivationThreshold float64

	// DeactivationThreshold is the VAD silence probability threshold. Default 0.35.
	DeactivationThreshold float64

	// MinSpeechMs is the minimum speech duration before audio is treated as
	// an utterance. Default 250.
	MinSpeechMs int

	// MinSilenceMs is accepted and defaulted to 500 but not used: an utterance
	// ends when the VAD reports speech end and the padding frames run out.
	MinSilenceMs int

	// PaddingMs is how much trailing audio is forwarded after speech ends.
	// Default 300.
	PaddingMs int

	// AllowInterrupt lets sustained candidate speech cancel an in-flight
	// reviewer utterance.
	AllowInterrupt bool

	// InterruptMinWords is the interim word count that triggers an
	// interruption. Default 2.
	InterruptMinWords int
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.ActivationThreshold <= 0 {
		c.ActivationThreshold = 0.5
	}
	if c.DeactivationThreshold <= 0 {
		c.DeactivationThreshold = 0.35
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = 250
	}
	if c.MinSilenceMs <= 0 {
		c.MinSilenceMs = 500
	}
	if c.PaddingMs <= 0 {
		c.PaddingMs = 300
	}
	if c.InterruptMinWords <= 0 {
		c.InterruptMinWords = 2
	}
	return c
}

// Event is one pipeline notification. Exactly one field describes the event.
type Event struct {
	// UserFinal carries an authoritative candidate utterance.
	UserFinal *types.Transcript

	// UserInterim carries a low-latency partial transcript.
	UserInterim *types.Transcript

	// AIStarted marks the start of a reviewer utterance (the text follows).
	AIStarted string

	// AIComplete marks the completion of a reviewer utterance.
	AIComplete string

	// Joined and Left carry participant ids.
	Joined string
	Left   string

	// DisconnectReason is set when the room connection ended.
	DisconnectReason string
}

// sayRequest is one queued utterance.
type sayRequest struct {
	text string
}

// Pipeline is the live audio loop for one session. Create with New, then
// Start. All exported methods are safe for concurrent use.
type Pipeline struct {
	rm   room.Room
	asrP asr.Provider
	ttsP tts.Provider
	vadE vad.Engine
	cfg  Config

	metrics *observe.Metrics

	events chan Event
	sayQ   chan sayRequest

	mu        sync.Mutex
	asrSess   asr.SessionHandle
	waiters   []chan types.Transcript
	speaking  bool
	interrupt context.CancelFunc
	started   bool
	closed    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compile-time check that *Pipeline satisfies the workflow's Dialogue surface.
var _ workflow.Dialogue = (*Pipeline)(nil)

// New creates a Pipeline over the given room and providers.
func New(rm room.Room, asrP asr.Provider, ttsP tts.Provider, vadE vad.Engine, cfg Config) *Pipeline {
	return &Pipeline{
		rm:      rm,
		asrP:    asrP,
		ttsP:    ttsP,
		vadE:    vadE,
		cfg:     cfg.withDefaults(),
		metrics: observe.Default(),
		events:  make(chan Event, 64),
		sayQ:    make(chan sayRequest, 8),
	}
}

// Start opens the ASR session and launches the audio, transcript, synthesis,
// and room-event loops. It must be called once before Say or
// AwaitFinalUtterance.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pipeline: already started")
	}
	p.started = true
	p.mu.Unlock()

	cfg := p.cfg.ASR
	if cfg.SampleRate == 0 {
		cfg.SampleRate = p.cfg.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	sess, err := p.asrP.StartStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pipeline: start ASR: %w", err)
	}

	vadSess, err := p.vadE.NewSession(vad.Config{
		SampleRate:            p.cfg.SampleRate,
		FrameSizeMs:           p.cfg.FrameMs,
		ActivationThreshold:   p.cfg.ActivationThreshold,
		DeactivationThreshold: p.cfg.DeactivationThreshold,
	})
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("pipeline: start VAD: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.asrSess = sess
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(4)
	go p.audioLoop(runCtx, vadSess)
	go p.transcriptLoop(runCtx, sess)
	go p.sayLoop(runCtx)
	go p.roomEventLoop(runCtx)
	return nil
}

// Events returns the pipeline's ordered event stream. The channel is closed
// by Close.
func (p *Pipeline) Events() <-chan Event { return p.events }

// Say enqueues text for synthesis. Utterances are spoken strictly in enqueue
// order; Say returns once the utterance is queued.
func (p *Pipeline) Say(ctx context.Context, text string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	req := sayRequest{text: text}
	select {
	case p.sayQ <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitFinalUtterance blocks until the candidate's next final utterance or
// the timeout, implementing the workflow's Dialogue contract.
func (p *Pipeline) AwaitFinalUtterance(ctx context.Context, timeout time.Duration) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	waiter := make(chan types.Transcript, 1)
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t, ok := <-waiter:
		if !ok {
			return "", ErrClosed
		}
		return t.Text, nil
	case <-timer.C:
		p.removeWaiter(waiter)
		return "", workflow.ErrAnswerTimeout
	case <-ctx.Done():
		p.removeWaiter(waiter)
		return "", ctx.Err()
	}
}

// Close releases the ASR session, stops synthesis, and closes the event
// channel. Safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	sess := p.asrSess
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	for _, w := range waiters {
		close(w)
	}
	p.wg.Wait()
	close(p.events)
	return nil
}

// ─── loops ────────────────────────────────────────────────────────────────────

// audioLoop gates candidate audio through VAD endpointing and forwards speech
// (plus padding) to the ASR session.
func (p *Pipeline) audioLoop(ctx context.Context, vadSess vad.SessionHandle) {
	defer p.wg.Done()
	defer vadSess.Close()

	frameDur := time.Duration(p.cfg.FrameMs) * time.Millisecond
	minSpeechFrames := p.cfg.MinSpeechMs / p.cfg.FrameMs
	paddingFrames := p.cfg.PaddingMs / p.cfg.FrameMs

	var (
		speechFrames  int
		paddingLeft   int
		inSpeech      bool
		pendingFrames [][]byte
	)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.rm.AudioInput():
			if !ok {
				return
			}

			ev, err := vadSess.ProcessFrame(frame.Data)
			if err != nil {
				// Frame-size mismatches and closed sessions are not
				// recoverable per-frame problems worth surfacing upstream.
				continue
			}

			switch ev.Type {
			case types.VADSpeechStart, types.VADSpeechContinue:
				speechFrames++
				paddingLeft = paddingFrames
				// Buffer until the minimum speech duration confirms a real
				// utterance, then flush everything.
				if !inSpeech {
					pendingFrames = append(pendingFrames, frame.Data)
					if speechFrames >= minSpeechFrames {
						inSpeech = true
						for _, f := range pendingFrames {
							_ = p.sendAudio(f)
						}
						pendingFrames = nil
						p.maybeInterrupt(time.Duration(speechFrames) * frameDur)
					}
					continue
				}
				_ = p.sendAudio(frame.Data)

			case types.VADSpeechEnd, types.VADSilence:
				if inSpeech && paddingLeft > 0 {
					paddingLeft--
					_ = p.sendAudio(frame.Data)
					if paddingLeft == 0 {
						inSpeech = false
						speechFrames = 0
					}
					continue
				}
				speechFrames = 0
				inSpeech = false
				pendingFrames = nil
			}
		}
	}
}

// sendAudio forwards one frame to the ASR session.
func (p *Pipeline) sendAudio(data []byte) error {
	p.mu.Lock()
	sess := p.asrSess
	p.mu.Unlock()
	if sess == nil {
		return ErrClosed
	}
	return sess.SendAudio(data)
}

// transcriptLoop fans ASR output into events and answer waiters.
func (p *Pipeline) transcriptLoop(ctx context.Context, sess asr.SessionHandle) {
	defer p.wg.Done()

	partials := sess.Partials()
	finals := sess.Finals()

	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			p.emit(ctx, Event{UserInterim: &t})
			if wordCount(t.Text) >= p.cfg.InterruptMinWords {
				p.maybeInterrupt(time.Duration(p.cfg.MinSpeechMs) * time.Millisecond)
			}

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			p.deliverFinal(t)
			p.emit(ctx, Event{UserFinal: &t})
		}
	}
}

// deliverFinal hands the transcript to the oldest registered waiter, if any.
func (p *Pipeline) deliverFinal(t types.Transcript) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w <- t
}

// removeWaiter unregisters a waiter that timed out or was cancelled.
func (p *Pipeline) removeWaiter(target chan types.Transcript) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// sayLoop synthesises queued utterances one at a time.
func (p *Pipeline) sayLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.sayQ:
			p.speak(ctx, req.text)
		}
	}
}

// speak synthesises one utterance into the room.
func (p *Pipeline) speak(ctx context.Context, text string) {
	uttCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.speaking = true
	p.interrupt = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.speaking = false
		p.interrupt = nil
		p.mu.Unlock()
	}()

	start := time.Now()
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := p.ttsP.SynthesizeStream(uttCtx, textCh, p.cfg.Voice)
	p.metrics.RecordProviderCall(ctx, "tts", "synthesize", time.Since(start), err)
	if err != nil {
		slog.Warn("pipeline: TTS start failed", "err", err)
		return
	}

	p.emit(ctx, Event{AIStarted: text})
	for chunk := range audioCh {
		if err := p.rm.WriteAudio(uttCtx, chunk); err != nil {
			slog.Warn("pipeline: write audio failed", "err", err)
			break
		}
	}
	p.emit(ctx, Event{AIComplete: text})
	if p.metrics.TTSDuration != nil {
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// maybeInterrupt cancels the in-flight reviewer utterance when interruption is
// allowed and the candidate has spoken for at least the minimum duration.
func (p *Pipeline) maybeInterrupt(spoken time.Duration) {
	if !p.cfg.AllowInterrupt {
		return
	}
	if spoken < time.Duration(p.cfg.MinSpeechMs)*time.Millisecond {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speaking && p.interrupt != nil {
		p.interrupt()
	}
}

// roomEventLoop forwards room lifecycle events.
func (p *Pipeline) roomEventLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.rm.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case room.ParticipantJoined:
				p.emit(ctx, Event{Joined: ev.ParticipantID})
			case room.ParticipantLeft:
				p.emit(ctx, Event{Left: ev.ParticipantID})
			case room.Disconnected:
				reason := ev.Reason
				if reason == "" {
					reason = "room closed"
				}
				p.emit(ctx, Event{DisconnectReason: reason})
			}
		}
	}
}

// emit delivers an event without blocking past cancellation.
func (p *Pipeline) emit(ctx context.Context, ev Event) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
