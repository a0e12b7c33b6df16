package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaizen403/vivavoce/internal/checkpoint"
	"github.com/kaizen403/vivavoce/internal/reasoner"
	"github.com/kaizen403/vivavoce/internal/review"
	"github.com/kaizen403/vivavoce/pkg/retrieval"
	"github.com/kaizen403/vivavoce/pkg/types"
)

// ErrAnswerTimeout is returned by Dialogue.AwaitFinalUtterance when the
// candidate produces no final utterance within the configured window.
var ErrAnswerTimeout = errors.New("workflow: answer timeout")

// Dialogue is the slice of the voice pipeline the workflow drives: speaking
// utterances and waiting for the candidate's next final utterance.
type Dialogue interface {
	// Say enqueues text for synthesis. It returns once the utterance is
	// accepted; playback continues asynchronously.
	Say(ctx context.Context, text string) error

	// AwaitFinalUtterance blocks until the candidate's next final utterance
	// or the timeout. On timeout it returns ErrAnswerTimeout.
	AwaitFinalUtterance(ctx context.Context, timeout time.Duration) (string, error)
}

// Checkpointer saves a snapshot of state. Failures are logged by the
// implementation; the workflow does not fail on checkpoint errors.
type Checkpointer func(ctx context.Context, s *review.State, node string, reason checkpoint.Reason)

// ReviewConfig tunes the review workflow.
type ReviewConfig struct {
	// AnswerTimeout is how long to wait for a candidate answer before the
	// follow-up / skip policy kicks in. Default 90s.
	AnswerTimeout time.Duration

	// UploadNudge is how long await_upload waits between nudge utterances.
	// Default 30s.
	UploadNudge time.Duration

	// MaxQuestions caps questions asked per session. Default review.MaxQuestions.
	MaxQuestions int

	// ContextChunks is how many retrieval chunks ground question generation.
	// Default 6.
	ContextChunks int
}

// withDefaults fills zero fields.
func (c ReviewConfig) withDefaults() ReviewConfig {
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 90 * time.Second
	}
	if c.UploadNudge <= 0 {
		c.UploadNudge = 30 * time.Second
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = review.MaxQuestions
	}
	if c.ContextChunks <= 0 {
		c.ContextChunks = 6
	}
	return c
}

// ReviewDeps carries the collaborators the review nodes call.
type ReviewDeps struct {
	Dialogue Dialogue
	Reasoner *reasoner.Reasoner
	Index    *retrieval.Index

	// Fetch resolves an artifact URI to its extracted text. Used when the
	// upload notification carries only a file URL. May be nil when all
	// artifacts arrive with inline text.
	Fetch func(ctx context.Context, uri string) (string, error)

	// AwaitArtifact blocks until an out-of-band upload notification arrives
	// or the timeout elapses; the second return is false on timeout.
	AwaitArtifact func(ctx context.Context, timeout time.Duration) (review.ArtifactRef, bool)

	// Checkpoint saves snapshots at the workflow's checkpoint points.
	// May be nil.
	Checkpoint Checkpointer

	// Clock stamps transcript entries and question start times.
	// Defaults to time.Now.
	Clock func() time.Time

	Config ReviewConfig
}

// Canned reviewer lines.
const (
	lineGreeting  = "Hello %s, welcome to your project review. I'll ask you some questions about %s once I've had a look at your presentation."
	lineNudge     = "Whenever you're ready, please upload your presentation so we can begin."
	lineRephrase  = "Let me put that another way: %s"
	lineSkip      = "That's alright, let's move on to the next question."
	lineClosing   = "That concludes our review. Thank you for walking me through your project — you'll receive the results shortly."
	lineFatal     = "I apologize, but we've encountered an issue: %s. Please contact support."
	lineTransient = "I'm having a moment of difficulty. Could you please repeat that?"
)

// checkpointReasons maps nodes to the snapshot reason written after they merge.
var checkpointReasons = map[string]checkpoint.Reason{
	"ask_question": checkpoint.ReasonBeforeQuestion,
	"evaluate":     checkpoint.ReasonAfterEvaluation,
	"on_error":     checkpoint.ReasonEmergencyPause,
}

// NewReviewWorkflow assembles the review session node graph over deps and
// validates it. The returned engine is ready for Run / RunFrom.
func NewReviewWorkflow(deps ReviewDeps) (*Engine, error) {
	deps.Config = deps.Config.withDefaults()
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	w := &reviewNodes{deps: deps}
	e := New("initialise", "on_error")

	e.Add("initialise", w.initialise, map[Route]string{"next": "await_upload"})
	e.Add("await_upload", w.awaitUpload, map[Route]string{"next": "route_upload"})
	e.Add("route_upload", w.routeUpload, map[Route]string{
		"parse": "parse",
		"wait":  "await_upload",
		"fail":  "on_error",
	})
	e.Add("parse", w.parse, map[Route]string{"next": "detect_ai"},
		WithEntryPhase(review.PhaseParsing),
		WithErrorRoute("route_upload"))
	e.Add("detect_ai", w.detectAI, map[Route]string{"next": "generate_questions"},
		WithEntryPhase(review.PhaseAIDetection))
	e.Add("generate_questions", w.generateQuestions, map[Route]string{"next": "ask_question"},
		WithEntryPhase(review.PhaseQuestionGeneration))
	e.Add("ask_question", w.askQuestion, map[Route]string{"next": "route_question"},
		WithEntryPhase(review.PhaseQuestioning))
	e.Add("route_question", w.routeQuestion, map[Route]string{
		"evaluate": "evaluate",
		"report":   "generate_report",
	})
	e.Add("evaluate", w.evaluate, map[Route]string{"next": "transition_level"})
	e.Add("transition_level", w.transitionLevel, map[Route]string{
		"ask":    "ask_question",
		"report": "generate_report",
	})
	e.Add("generate_report", w.generateReport, map[Route]string{"next": "closing"},
		WithEntryPhase(review.PhaseReportGeneration))
	e.Add("closing", w.closing, nil)
	e.Add("on_error", w.onError, nil)

	if deps.Checkpoint != nil {
		e.OnAfterNode(func(ctx context.Context, nodeName string, phaseChanged bool, s *review.State) {
			if reason, ok := checkpointReasons[nodeName]; ok {
				// ask_question only counts once a question is actually
				// presented; the entry into QUESTIONING and an empty-pool
				// pass record as plain phase transitions instead.
				if nodeName == "ask_question" && s.CurrentQuestion == nil {
					if phaseChanged {
						deps.Checkpoint(ctx, s, nodeName, checkpoint.ReasonPhaseTransition)
					}
					return
				}
				deps.Checkpoint(ctx, s, nodeName, reason)
				return
			}
			if phaseChanged {
				deps.Checkpoint(ctx, s, nodeName, checkpoint.ReasonPhaseTransition)
			}
		})
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// StartNode returns the node to begin at for a (possibly restored) state.
func StartNode(s *review.State) string {
	switch s.Phase {
	case review.PhaseUpload:
		return "initialise"
	case review.PhaseParsing:
		return "parse"
	case review.PhaseAIDetection:
		return "detect_ai"
	case review.PhaseQuestionGeneration:
		return "generate_questions"
	case review.PhaseQuestioning:
		if s.CurrentQuestion != nil {
			return "route_question"
		}
		return "ask_question"
	case review.PhaseReportGeneration:
		return "generate_report"
	case review.PhaseCompleted:
		return "closing"
	default:
		return "on_error"
	}
}

// reviewNodes holds the node implementations and their shared dependencies.
type reviewNodes struct {
	deps ReviewDeps
}

// initialise emits the greeting and, when the artifact arrived with the room
// metadata, transitions straight to PARSING.
func (w *reviewNodes) initialise(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	greeting := fmt.Sprintf(lineGreeting, s.Candidate.DisplayName, s.Artifact.Title)
	if err := w.deps.Dialogue.Say(ctx, greeting); err != nil {
		return review.Delta{}, "", fmt.Errorf("workflow: greeting: %w", err)
	}

	d := review.SpokenDelta(greeting, w.deps.Clock())
	if s.Artifact.Available() {
		d.Phase = phasePtr(review.PhaseParsing)
	}
	return d, "next", nil
}

// awaitUpload idles until the artifact is available, nudging the candidate
// between waits.
func (w *reviewNodes) awaitUpload(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	if s.Artifact.Available() {
		return review.Delta{}, "next", nil
	}

	if err := w.deps.Dialogue.Say(ctx, lineNudge); err != nil {
		return review.Delta{}, "", fmt.Errorf("workflow: nudge: %w", err)
	}
	d := review.SpokenDelta(lineNudge, w.deps.Clock())

	if w.deps.AwaitArtifact != nil {
		if ref, ok := w.deps.AwaitArtifact(ctx, w.deps.Config.UploadNudge); ok {
			ref.Title = s.Artifact.Title
			ref.Description = s.Artifact.Description
			d.Artifact = &ref
		}
	}
	return d, "next", nil
}

// routeUpload is the conditional gate out of the upload phase.
func (w *reviewNodes) routeUpload(_ context.Context, s *review.State) (review.Delta, Route, error) {
	switch {
	case s.ErrorCount >= MaxNodeErrors:
		return review.Delta{}, "fail", nil
	case s.Artifact.Available():
		return review.Delta{}, "parse", nil
	default:
		return review.Delta{}, "wait", nil
	}
}

// parse resolves the artifact text and ingests it into the retrieval index.
func (w *reviewNodes) parse(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	text := s.Artifact.Text
	var d review.Delta

	if text == "" && s.Artifact.URI != "" {
		if w.deps.Fetch == nil {
			return d, "", errors.New("workflow: parse: artifact has URI but no fetcher is configured")
		}
		fetched, err := w.deps.Fetch(ctx, s.Artifact.URI)
		if err != nil {
			return d, "", fmt.Errorf("workflow: fetch artifact: %w", err)
		}
		text = fetched
		ref := s.Artifact
		ref.Text = fetched
		d.Artifact = &ref
	}

	if err := w.deps.Index.Ingest(ctx, s.SessionID, text); err != nil {
		return d, "", fmt.Errorf("workflow: ingest: %w", err)
	}
	return d, "next", nil
}

// detectAI runs AI-content detection over the parsed slides.
func (w *reviewNodes) detectAI(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	slides := retrieval.NewParser().Parse(s.Artifact.Text)
	report, err := w.deps.Reasoner.DetectAIContent(ctx, slides)
	if err != nil {
		return review.Delta{}, "", err
	}
	return review.Delta{Detection: report}, "next", nil
}

// generateQuestions fans out the three difficulty levels in parallel and
// populates the pool.
func (w *reviewNodes) generateQuestions(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	artifactContext, err := w.deps.Index.ContextFor(ctx, s.SessionID, s.Artifact.Title, w.deps.Config.ContextChunks)
	if err != nil {
		return review.Delta{}, "", err
	}
	if artifactContext == "" {
		artifactContext = s.Artifact.Text
	}

	pool, err := w.deps.Reasoner.GenerateAllLevels(ctx, s.Artifact.Title, artifactContext)
	if err != nil {
		return review.Delta{}, "", err
	}
	return review.Delta{Pool: pool}, "next", nil
}

// askQuestion presents the next question — easy while available, then medium,
// then hard — and marks it current.
func (w *reviewNodes) askQuestion(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	if len(s.Asked) >= w.deps.Config.MaxQuestions {
		return review.Delta{}, "next", nil
	}
	q, ok := s.NextQuestion()
	if !ok {
		return review.Delta{}, "next", nil
	}

	if err := w.deps.Dialogue.Say(ctx, q.Text); err != nil {
		return review.Delta{}, "", fmt.Errorf("workflow: ask question: %w", err)
	}

	now := w.deps.Clock()
	d := review.SpokenDelta(q.Text, now)
	d.Pool = poolWithout(s.Pool, q)
	d.SetCurrentQuestion = true
	d.CurrentQuestion = &q
	d.CurrentLevel = levelPtr(q.Level)
	d.AppendAsked = []review.Question{q}
	d.QuestionStartedAt = &now
	d.AnswerTimeouts = intPtr(0)
	return d, "next", nil
}

// routeQuestion decides between evaluating the pending answer and wrapping up.
func (w *reviewNodes) routeQuestion(_ context.Context, s *review.State) (review.Delta, Route, error) {
	if s.CurrentQuestion != nil {
		return review.Delta{}, "evaluate", nil
	}
	return review.Delta{}, "report", nil
}

// evaluate waits for the candidate's answer to the current question and scores
// it. On the first answer timeout it speaks a rephrase and waits once more; on
// the second it skips the question without emitting an evaluation.
func (w *reviewNodes) evaluate(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	question := *s.CurrentQuestion
	var d review.Delta

	answer, err := w.deps.Dialogue.AwaitFinalUtterance(ctx, w.deps.Config.AnswerTimeout)
	if errors.Is(err, ErrAnswerTimeout) {
		// One follow-up: rephrase and wait again.
		rephrase := fmt.Sprintf(lineRephrase, question.Text)
		if sayErr := w.deps.Dialogue.Say(ctx, rephrase); sayErr != nil {
			return d, "", fmt.Errorf("workflow: rephrase: %w", sayErr)
		}
		appendSpoken(&d, rephrase, w.deps.Clock())

		answer, err = w.deps.Dialogue.AwaitFinalUtterance(ctx, w.deps.Config.AnswerTimeout)
		if errors.Is(err, ErrAnswerTimeout) {
			// Second timeout: skip without an evaluation.
			if sayErr := w.deps.Dialogue.Say(ctx, lineSkip); sayErr != nil {
				return d, "", fmt.Errorf("workflow: skip: %w", sayErr)
			}
			appendSpoken(&d, lineSkip, w.deps.Clock())
			d.SetCurrentQuestion = true
			d.CurrentQuestion = nil
			d.AnswerTimeouts = intPtr(0)
			return d, "next", nil
		}
	}
	if err != nil {
		return d, "", fmt.Errorf("workflow: await answer: %w", err)
	}

	d.AppendTranscript = append(d.AppendTranscript, types.TranscriptEntry{
		Role:      types.RoleCandidate,
		Text:      answer,
		Timestamp: w.deps.Clock(),
	})

	evaluation, err := w.deps.Reasoner.EvaluateAnswer(ctx, question, answer)
	if err != nil {
		// Per-turn transient failure: apologise and let the retry path run
		// this node again, which waits for the candidate to repeat.
		if sayErr := w.deps.Dialogue.Say(ctx, lineTransient); sayErr == nil {
			appendSpoken(&d, lineTransient, w.deps.Clock())
		}
		return d, "", err
	}

	d.AppendEvaluations = []review.Evaluation{*evaluation}
	d.SetCurrentQuestion = true
	d.CurrentQuestion = nil
	d.AnswerTimeouts = intPtr(0)
	return d, "next", nil
}

// transitionLevel advances the difficulty tier when the current one is
// exhausted and decides whether questioning continues.
func (w *reviewNodes) transitionLevel(_ context.Context, s *review.State) (review.Delta, Route, error) {
	if len(s.Asked) >= w.deps.Config.MaxQuestions || s.PoolSize() == 0 {
		return review.Delta{}, "report", nil
	}

	if len(s.Pool[s.CurrentLevel]) == 0 {
		for _, lvl := range review.LevelOrder() {
			if len(s.Pool[lvl]) > 0 {
				return review.Delta{CurrentLevel: levelPtr(lvl)}, "ask", nil
			}
		}
	}
	return review.Delta{}, "ask", nil
}

// generateReport runs the final-report task and completes the session.
func (w *reviewNodes) generateReport(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	report, err := w.deps.Reasoner.FinalReport(ctx, reasoner.ReportInput{
		Candidate:   s.Candidate,
		Artifact:    s.Artifact,
		Detection:   s.Detection,
		Asked:       s.Asked,
		Evaluations: s.Evaluations,
	})
	if err != nil {
		return review.Delta{}, "", err
	}

	d := review.Delta{Report: report}
	d.Phase = phasePtr(review.PhaseCompleted)
	return d, "next", nil
}

// closing speaks the wrap-up line; the orchestrator owns waiting for the room
// to disconnect.
func (w *reviewNodes) closing(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	if err := w.deps.Dialogue.Say(ctx, lineClosing); err != nil {
		return review.Delta{}, RouteEnd, nil
	}
	return review.SpokenDelta(lineClosing, w.deps.Clock()), RouteEnd, nil
}

// onError speaks the apology and parks the session in ERROR.
func (w *reviewNodes) onError(ctx context.Context, s *review.State) (review.Delta, Route, error) {
	reason := s.LastError
	if reason == "" {
		reason = "an internal error"
	}
	line := fmt.Sprintf(lineFatal, reason)
	_ = w.deps.Dialogue.Say(ctx, line)

	d := review.SpokenDelta(line, w.deps.Clock())
	d.Phase = phasePtr(review.PhaseError)
	return d, RouteEnd, nil
}

// ─── small helpers ────────────────────────────────────────────────────────────

// poolWithout returns a copy of pool with q removed from its level bucket.
func poolWithout(pool map[review.Level][]review.Question, q review.Question) map[review.Level][]review.Question {
	out := make(map[review.Level][]review.Question, len(pool))
	for lvl, qs := range pool {
		if lvl != q.Level {
			out[lvl] = qs
			continue
		}
		kept := make([]review.Question, 0, len(qs))
		for _, cand := range qs {
			if cand.ID != q.ID {
				kept = append(kept, cand)
			}
		}
		out[lvl] = kept
	}
	return out
}

func appendSpoken(d *review.Delta, text string, at time.Time) {
	d.LastUtterance = &text
	d.AppendTranscript = append(d.AppendTranscript, types.TranscriptEntry{
		Role:      types.RoleReviewer,
		Text:      text,
		Timestamp: at,
	})
}

func phasePtr(p review.Phase) *review.Phase { return &p }

func levelPtr(l review.Level) *review.Level { return &l }

func intPtr(v int) *int { return &v }
