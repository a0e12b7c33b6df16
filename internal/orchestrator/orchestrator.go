// Package orchestrator owns the lifecycle of one review session: it binds a
// room to the dialogue pipeline, ingests the presentation artifact, drives
// the review workflow, keeps checkpoints flowing, and tears everything down
// on disconnect or terminal state.
//
// One orchestrator instance serves one room. Sessions are isolated; there is
// no cross-session coordination here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kaizen403/vivavoce/internal/checkpoint"
	"github.com/kaizen403/vivavoce/internal/config"
	"github.com/kaizen403/vivavoce/internal/observe"
	"github.com/kaizen403/vivavoce/internal/pipeline"
	"github.com/kaizen403/vivavoce/internal/reasoner"
	"github.com/kaizen403/vivavoce/internal/resilience"
	"github.com/kaizen403/vivavoce/internal/review"
	"github.com/kaizen403/vivavoce/internal/room"
	"github.com/kaizen403/vivavoce/internal/workflow"
	"github.com/kaizen403/vivavoce/pkg/provider/asr"
	"github.com/kaizen403/vivavoce/pkg/provider/embeddings"
	"github.com/kaizen403/vivavoce/pkg/provider/llm"
	"github.com/kaizen403/vivavoce/pkg/provider/tts"
	"github.com/kaizen403/vivavoce/pkg/provider/vad"
	"github.com/kaizen403/vivavoce/pkg/retrieval"
)

// Deps carries the collaborators an orchestrator composes. All fields except
// Fetch are required.
type Deps struct {
	Room room.Room

	ASR        asr.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	LLM        llm.Provider
	Embeddings embeddings.Provider

	// Store persists retrieval chunks.
	Store retrieval.Store

	// Checkpoints persists session snapshots.
	Checkpoints checkpoint.Store

	// Fetch resolves an artifact URI to extracted text. Defaults to an HTTP
	// GET with a 30s timeout.
	Fetch func(ctx context.Context, uri string) (string, error)

	Cfg *config.Config
}

// Orchestrator runs one review session end to end.
type Orchestrator struct {
	meta room.Metadata
	deps Deps

	registry *resilience.Registry
	metrics  *observe.Metrics

	mu       sync.Mutex
	latest   *review.State // last known snapshot, cloned from the live state
	lastBeat time.Time

	disconnectCh chan string
	artifactCh   chan review.ArtifactRef
}

// New validates the metadata and builds an Orchestrator.
func New(meta room.Metadata, deps Deps) (*Orchestrator, error) {
	if meta.AgentType != "" && meta.AgentType != room.AgentTypeProjectReview {
		return nil, fmt.Errorf("orchestrator: unsupported agent type %q", meta.AgentType)
	}
	if meta.SessionID == "" {
		return nil, errors.New("orchestrator: metadata missing session id")
	}
	if deps.Room == nil || deps.ASR == nil || deps.TTS == nil || deps.VAD == nil ||
		deps.LLM == nil || deps.Embeddings == nil || deps.Store == nil || deps.Checkpoints == nil {
		return nil, errors.New("orchestrator: missing required dependency")
	}
	if deps.Cfg == nil {
		deps.Cfg = config.Default()
	}
	if deps.Fetch == nil {
		deps.Fetch = httpFetch
	}

	return &Orchestrator{
		meta: meta,
		deps: deps,
		registry: resilience.NewRegistry(resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		}),
		metrics:      observe.Default(),
		disconnectCh: make(chan string, 1),
		artifactCh:   make(chan review.ArtifactRef, 1),
	}, nil
}

// Run executes the session until its workflow reaches a terminal state or the
// room disconnects. It always tears the pipeline down before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.metrics.SessionsActive != nil {
		o.metrics.SessionsActive.Add(ctx, 1)
		defer o.metrics.SessionsActive.Add(ctx, -1)
	}

	state, resumed, err := o.initialState(ctx)
	if err != nil {
		return err
	}
	o.setLatest(state)

	if err := o.deps.VAD.Preload(); err != nil {
		return fmt.Errorf("orchestrator: preload VAD: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Dialogue pipeline over the room.
	pl := pipeline.New(o.deps.Room, o.deps.ASR, o.deps.TTS, o.deps.VAD, o.pipelineConfig())
	if err := pl.Start(runCtx); err != nil {
		return fmt.Errorf("orchestrator: start pipeline: %w", err)
	}
	defer pl.Close()

	// Background listeners: the room data channel (upload notifications) and
	// the pipeline event stream (heartbeats, disconnects).
	var listeners sync.WaitGroup
	listeners.Add(2)
	go func() {
		defer listeners.Done()
		o.dataChannelLoop(runCtx)
	}()
	go func() {
		defer listeners.Done()
		o.eventLoop(runCtx, cancel, pl)
	}()

	// Periodic checkpointing runs for the life of the session.
	ticker := checkpoint.NewTicker(o.deps.Checkpoints, o.deps.Cfg.Checkpoint.Interval, o.latestClone)
	ticker.Start(runCtx)

	// Assemble and run the workflow.
	engine, err := o.buildWorkflow(pl)
	if err != nil {
		return err
	}

	start := workflow.StartNode(state)
	if resumed {
		slog.Info("resuming session from checkpoint",
			"session_id", state.SessionID,
			"phase", state.Phase,
			"start_node", start)
	}

	wfErr := engine.RunFrom(runCtx, state, start)
	o.setLatest(state)

	// Terminal state reached (or the run was cancelled): stop checkpointing,
	// wait for the room to go away, and clean up.
	ticker.Stop()

	if wfErr == nil && state.Phase == review.PhaseCompleted {
		o.awaitDisconnect(ctx)
	}

	cancel()
	_ = pl.Close()
	_ = o.deps.Room.Close()
	listeners.Wait()

	o.finalCheckpoint(context.WithoutCancel(ctx), state)

	o.mu.Lock()
	lastBeat := o.lastBeat
	o.mu.Unlock()

	slog.Info("session finished",
		"session_id", state.SessionID,
		"phase", state.Phase,
		"questions_asked", len(state.Asked),
		"evaluations", len(state.Evaluations),
		"last_heartbeat", lastBeat)

	if wfErr != nil && !errors.Is(wfErr, context.Canceled) {
		return fmt.Errorf("orchestrator: workflow: %w", wfErr)
	}
	return nil
}

// initialState restores the latest checkpoint for the session or builds a
// fresh state from the room metadata.
func (o *Orchestrator) initialState(ctx context.Context) (*review.State, bool, error) {
	entry, err := o.deps.Checkpoints.Latest(ctx, o.meta.SessionID)
	if err == nil && entry.Snapshot != nil && !entry.Snapshot.Phase.Terminal() {
		restored := entry.Snapshot.Clone()
		if vErr := restored.Validate(); vErr == nil {
			restored.Conn = review.ConnConnected
			// Accumulated already covers previous connections; restart the
			// wall clock for this one.
			restored.StartedAt = time.Now()
			return restored, true, nil
		}
		slog.Warn("discarding invalid checkpoint snapshot", "session_id", o.meta.SessionID)
	}
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, false, fmt.Errorf("orchestrator: load checkpoint: %w", err)
	}

	state := review.NewState(
		o.meta.SessionID,
		o.meta.RoomName,
		review.Candidate{ID: o.meta.SessionID, DisplayName: displayName(o.meta)},
		review.ArtifactRef{
			URI:         o.meta.PPTURL,
			Title:       o.meta.ProjectTitle,
			Description: o.meta.ProjectDescription,
			Text:        o.meta.PPTContent,
		},
		time.Now(),
	)
	return state, false, nil
}

// buildWorkflow wires the review workflow over the session's providers.
func (o *Orchestrator) buildWorkflow(pl *pipeline.Pipeline) (*workflow.Engine, error) {
	cfg := o.deps.Cfg

	embedder := resilience.WrapEmbedder(o.deps.Embeddings, o.registry, resilience.GenericProfile())
	indexOpts := []retrieval.IndexOption{
		retrieval.WithChunker(retrieval.NewChunker(cfg.Retrieval.ChunkBudget, cfg.Retrieval.ChunkOverlap)),
	}
	if cfg.Retrieval.UseMockSlides {
		indexOpts = append(indexOpts, retrieval.WithMockSlides())
	}
	index := retrieval.NewIndex(embedder, o.deps.Store, indexOpts...)

	reasonerOpts := []reasoner.Option{}
	if cfg.Providers.LLM.Temperature > 0 {
		reasonerOpts = append(reasonerOpts, reasoner.WithTemperature(cfg.Providers.LLM.Temperature))
	}
	if cfg.Providers.LLM.MaxTokens > 0 {
		reasonerOpts = append(reasonerOpts, reasoner.WithMaxTokens(cfg.Providers.LLM.MaxTokens))
	}
	rsn := reasoner.New(o.deps.LLM, o.registry, reasonerOpts...)

	return workflow.NewReviewWorkflow(workflow.ReviewDeps{
		Dialogue:      pl,
		Reasoner:      rsn,
		Index:         index,
		Fetch:         o.deps.Fetch,
		AwaitArtifact: o.awaitArtifact,
		Checkpoint:    o.saveCheckpoint,
		Config: workflow.ReviewConfig{
			AnswerTimeout: cfg.Dialogue.AnswerTimeout,
		},
	})
}

// pipelineConfig maps the session configuration onto the pipeline.
func (o *Orchestrator) pipelineConfig() pipeline.Config {
	d := o.deps.Cfg.Dialogue
	stt := o.deps.Cfg.Providers.STT
	return pipeline.Config{
		ASR: asr.StreamConfig{
			Model:       stt.Model,
			Language:    stt.Language,
			Punctuate:   true,
			SmartFormat: true,
			Utterances:  true,
		},
		Voice: tts.Voice{
			ID:       d.VoiceID,
			Language: o.deps.Cfg.Providers.TTS.Language,
			Speed:    d.Speed,
		},
		ActivationThreshold:   d.ActivationThreshold,
		DeactivationThreshold: d.DeactivationThreshold,
		MinSpeechMs:           d.MinSpeechMs,
		MinSilenceMs:          d.MinSilenceMs,
		PaddingMs:             d.PaddingMs,
		AllowInterrupt:        d.AllowInterrupt,
	}
}

// dataChannelLoop consumes client data messages; upload notifications feed the
// workflow's artifact waiter, everything else is logged and dropped.
func (o *Orchestrator) dataChannelLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-o.deps.Room.DataMessages():
			if !ok {
				return
			}
			if !msg.IsUpload() {
				slog.Info("ignoring unknown data message", "type", msg.Type)
				continue
			}
			ref := review.ArtifactRef{
				URI:      msg.Data.FileURL,
				FileName: msg.Data.FileName,
			}
			// Latest-wins: replace any undelivered notification.
			select {
			case o.artifactCh <- ref:
			default:
				select {
				case <-o.artifactCh:
				default:
				}
				o.artifactCh <- ref
			}
			slog.Info("artifact upload notified",
				"session_id", o.meta.SessionID,
				"file", msg.Data.FileName)
		}
	}
}

// awaitArtifact implements the workflow's upload waiter.
func (o *Orchestrator) awaitArtifact(ctx context.Context, timeout time.Duration) (review.ArtifactRef, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ref := <-o.artifactCh:
		return ref, true
	case <-timer.C:
		return review.ArtifactRef{}, false
	case <-ctx.Done():
		return review.ArtifactRef{}, false
	}
}

// eventLoop consumes the pipeline event stream: it refreshes the liveness
// timestamp and turns a room disconnect into session shutdown by cancelling
// the run context. Disconnection is not an error — the final checkpoint
// records connection_lost and the session resumes from it later.
func (o *Orchestrator) eventLoop(ctx context.Context, cancelRun context.CancelFunc, pl *pipeline.Pipeline) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pl.Events():
			if !ok {
				return
			}
			o.mu.Lock()
			o.lastBeat = time.Now()
			o.mu.Unlock()

			switch {
			case ev.DisconnectReason != "":
				slog.Info("room disconnected",
					"session_id", o.meta.SessionID,
					"reason", ev.DisconnectReason)
				select {
				case o.disconnectCh <- ev.DisconnectReason:
				default:
				}
				cancelRun()
			case ev.Joined != "":
				slog.Info("participant joined", "participant", ev.Joined)
			case ev.Left != "":
				slog.Info("participant left", "participant", ev.Left)
			}
		}
	}
}

// awaitDisconnect blocks until the room reports a disconnect or ctx ends.
func (o *Orchestrator) awaitDisconnect(ctx context.Context) {
	select {
	case <-o.disconnectCh:
	case <-ctx.Done():
	}
}

// saveCheckpoint is the workflow's Checkpointer. It also refreshes the
// orchestrator's latest snapshot for the periodic ticker.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, s *review.State, node string, reason checkpoint.Reason) {
	o.setLatest(s)
	if _, err := o.deps.Checkpoints.Save(ctx, s, checkpoint.Meta{Node: node, Reason: reason}); err != nil {
		slog.Warn("checkpoint save failed",
			"session_id", s.SessionID,
			"node", node,
			"reason", reason,
			"err", err)
		return
	}
	if o.metrics.Checkpoints != nil {
		o.metrics.Checkpoints.Add(ctx, 1)
	}
}

// finalCheckpoint records the session's resting state: connection_lost for a
// session interrupted mid-flight, manual for a terminal one.
func (o *Orchestrator) finalCheckpoint(ctx context.Context, s *review.State) {
	o.mu.Lock()
	s.LastHeartbeat = o.lastBeat
	o.mu.Unlock()
	s.Accumulated += time.Since(s.StartedAt)

	reason := checkpoint.ReasonManual
	if !s.Phase.Terminal() {
		reason = checkpoint.ReasonConnectionLost
		s.Conn = review.ConnDisconnected
	}
	if _, err := o.deps.Checkpoints.Save(ctx, s, checkpoint.Meta{Node: "shutdown", Reason: reason}); err != nil {
		slog.Warn("final checkpoint failed", "session_id", s.SessionID, "err", err)
	}
}

// setLatest stores a cloned snapshot for out-of-band readers.
func (o *Orchestrator) setLatest(s *review.State) {
	clone := s.Clone()
	o.mu.Lock()
	o.latest = clone
	o.mu.Unlock()
}

// latestClone returns the most recent snapshot, for the periodic ticker.
func (o *Orchestrator) latestClone() *review.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latest == nil {
		return nil
	}
	return o.latest.Clone()
}

// displayName derives the candidate's display name from metadata.
func displayName(meta room.Metadata) string {
	if meta.CandidateName != "" {
		return meta.CandidateName
	}
	return "candidate"
}

// httpFetch is the default artifact fetcher: a plain GET returning the body
// as text. The upload service serves pre-extracted text at the notified URL.
func httpFetch(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("orchestrator: fetch artifact: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("orchestrator: fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("orchestrator: fetch artifact: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("orchestrator: read artifact: %w", err)
	}
	return string(body), nil
}
