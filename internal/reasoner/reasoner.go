// Package reasoner materialises the structured LLM tasks of a review session:
// AI-content detection, question generation, answer evaluation, and the final
// report. Each task is a fixed prompt, a JSON schema declared beside its wire
// type, and one structured-LLM call routed through the resilience wrappers.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kaizen403/vivavoce/internal/observe"
	"github.com/kaizen403/vivavoce/internal/resilience"
	"github.com/kaizen403/vivavoce/internal/review"
	"github.com/kaizen403/vivavoce/pkg/provider/fault"
	"github.com/kaizen403/vivavoce/pkg/provider/llm"
	"github.com/kaizen403/vivavoce/pkg/retrieval"
	"github.com/kaizen403/vivavoce/pkg/types"
)

// Default question counts per difficulty level.
const (
	DefaultEasyCount   = 5
	DefaultMediumCount = 5
	DefaultHardCount   = 3
)

// Reasoner runs the structured tasks against an LLM provider through the
// shared resilience registry. All methods are safe for concurrent use.
type Reasoner struct {
	provider llm.Provider
	registry *resilience.Registry
	profile  resilience.Profile
	metrics  *observe.Metrics

	// temperature applied to every structured task.
	temperature float64
	maxTokens   int
}

// Option configures a Reasoner during construction.
type Option func(*Reasoner)

// WithTemperature overrides the structured-task sampling temperature.
// The default is 0.2.
func WithTemperature(t float64) Option {
	return func(r *Reasoner) { r.temperature = t }
}

// WithMaxTokens caps structured-task completions. Zero uses the provider default.
func WithMaxTokens(n int) Option {
	return func(r *Reasoner) { r.maxTokens = n }
}

// WithProfile overrides the resilience profile (retry schedule + timeout)
// applied to every call. The default is resilience.LLMProfile.
func WithProfile(p resilience.Profile) Option {
	return func(r *Reasoner) { r.profile = p }
}

// New creates a Reasoner over provider, wrapping every call with the breakers
// in registry under the LLM retry/timeout profile.
func New(provider llm.Provider, registry *resilience.Registry, opts ...Option) *Reasoner {
	r := &Reasoner{
		provider:    provider,
		registry:    registry,
		profile:     resilience.LLMProfile(),
		metrics:     observe.Default(),
		temperature: 0.2,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// call runs one structured request under the resilience wrappers and decodes
// the reply into out.
func (r *Reasoner) call(ctx context.Context, key string, req llm.StructuredRequest, out any) error {
	req.Temperature = r.temperature
	if req.MaxTokens == 0 {
		req.MaxTokens = r.maxTokens
	}

	start := time.Now()
	raw, err := resilience.CallValue(ctx, r.registry, key, r.profile, func(ctx context.Context) (json.RawMessage, error) {
		return r.provider.Structured(ctx, req)
	})
	r.metrics.RecordProviderCall(ctx, "llm", key, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("reasoner: %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("reasoner: %s: decode: %w", key, fault.Permanent(err))
	}
	return nil
}

// ─── AI-content detection ─────────────────────────────────────────────────────

// DetectAIContent runs per-slide AI-content detection and aggregates the
// verdicts into a report. Slides with no text are skipped.
func (r *Reasoner) DetectAIContent(ctx context.Context, slides []retrieval.Slide) (*review.DetectionReport, error) {
	report := &review.DetectionReport{}

	for _, slide := range slides {
		text := slideText(slide)
		if strings.TrimSpace(text) == "" {
			continue
		}

		var wire sectionDetectionWire
		err := r.call(ctx, "llm.detect", llm.StructuredRequest{
			SystemPrompt: detectPrompt,
			Messages: []types.Message{{
				Role:    "user",
				Content: fmt.Sprintf("Slide %d:\n%s", slide.Number, text),
			}},
			SchemaName: "ai_content_detection",
			Schema:     sectionDetectionSchema,
		}, &wire)
		if err != nil {
			return nil, err
		}

		report.Sections = append(report.Sections, review.SectionDetection{
			SlideNumber: slide.Number,
			Result:      wire.Result,
			Confidence:  wire.Confidence,
			Indicators:  wire.Indicators,
			Explanation: wire.Explanation,
		})
	}

	aggregate(report)
	return report, nil
}

// aggregate fills the report's roll-up fields from its sections.
func aggregate(report *review.DetectionReport) {
	report.TotalSections = len(report.Sections)

	if report.TotalSections == 0 {
		report.OverallResult = "uncertain"
		report.Summary = "No sections with analysable content."
		return
	}

	confidenceSum := 0
	for _, s := range report.Sections {
		confidenceSum += s.Confidence
		if s.Result == "likely_ai" {
			report.AILikelySections++
		}
	}
	report.OverallConfidence = confidenceSum / report.TotalSections

	ratio := float64(report.AILikelySections) / float64(report.TotalSections)
	switch {
	case ratio >= 0.5:
		report.OverallResult = "likely_ai"
	case ratio >= 0.25:
		report.OverallResult = "possibly_ai"
	default:
		report.OverallResult = "likely_human"
	}
	report.Summary = fmt.Sprintf("%d of %d sections flagged as likely AI-generated.",
		report.AILikelySections, report.TotalSections)
}

// ─── Question generation ──────────────────────────────────────────────────────

// GenerateQuestions produces count questions at the given level, grounded in
// the supplied artifact context.
func (r *Reasoner) GenerateQuestions(ctx context.Context, projectTitle, artifactContext string, level review.Level, count int) ([]review.Question, error) {
	var wire questionSetWire
	err := r.call(ctx, "llm.questions", llm.StructuredRequest{
		SystemPrompt: fmt.Sprintf(questionPrompt, level, count),
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Project: %s\n\nPresentation content:\n%s", projectTitle, artifactContext),
		}},
		SchemaName: "question_generation",
		Schema:     questionSetSchema,
	}, &wire)
	if err != nil {
		return nil, err
	}

	questions := make([]review.Question, 0, len(wire.Questions))
	for _, q := range wire.Questions {
		questions = append(questions, review.Question{
			ID:             uuid.NewString(),
			Level:          level,
			Text:           q.Question,
			Context:        q.Context,
			ExpectedPoints: q.ExpectedPoints,
			SlideReference: q.SlideReference,
		})
	}
	return questions, nil
}

// GenerateAllLevels runs the three per-level generations in parallel and
// returns the pool partitioned by level. Level results are independent, so the
// merged pool does not depend on completion order.
func (r *Reasoner) GenerateAllLevels(ctx context.Context, projectTitle, artifactContext string) (map[review.Level][]review.Question, error) {
	counts := map[review.Level]int{
		review.LevelEasy:   DefaultEasyCount,
		review.LevelMedium: DefaultMediumCount,
		review.LevelHard:   DefaultHardCount,
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		results = make(map[review.Level][]review.Question, len(counts))
		resCh   = make(chan struct {
			level review.Level
			qs    []review.Question
		}, len(counts))
	)

	for _, level := range review.LevelOrder() {
		level := level
		g.Go(func() error {
			qs, err := r.GenerateQuestions(gctx, projectTitle, artifactContext, level, counts[level])
			if err != nil {
				return err
			}
			resCh <- struct {
				level review.Level
				qs    []review.Question
			}{level, qs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(resCh)
	for res := range resCh {
		results[res.level] = res.qs
	}
	return results, nil
}

// ─── Answer evaluation ────────────────────────────────────────────────────────

// EvaluateAnswer scores the candidate's answer to question.
func (r *Reasoner) EvaluateAnswer(ctx context.Context, question review.Question, answer string) (*review.Evaluation, error) {
	var wire evaluationWire
	err := r.call(ctx, "llm.evaluate", llm.StructuredRequest{
		SystemPrompt: evaluatePrompt,
		Messages: []types.Message{{
			Role: "user",
			Content: fmt.Sprintf("Question: %s\n\nExpected points: %s\n\nCandidate's answer: %s",
				question.Text, strings.Join(question.ExpectedPoints, "; "), answer),
		}},
		SchemaName: "answer_evaluation",
		Schema:     evaluationSchema,
	}, &wire)
	if err != nil {
		return nil, err
	}

	return &review.Evaluation{
		QuestionID:                question.ID,
		Score:                     clampScore(wire.Score),
		Feedback:                  wire.Feedback,
		DemonstratesUnderstanding: wire.DemonstratesUnderstanding,
		FlaggedConcerns:           wire.FlaggedConcerns,
	}, nil
}

// ─── Final report ─────────────────────────────────────────────────────────────

// ReportInput carries everything the final-report task needs.
type ReportInput struct {
	Candidate   review.Candidate
	Artifact    review.ArtifactRef
	Detection   *review.DetectionReport
	Asked       []review.Question
	Evaluations []review.Evaluation
}

// FinalReport synthesises the overall assessment from the session's
// evaluations and detection results.
func (r *Reasoner) FinalReport(ctx context.Context, input ReportInput) (*review.FinalReport, error) {
	var wire finalReportWire
	err := r.call(ctx, "llm.report", llm.StructuredRequest{
		SystemPrompt: reportPrompt,
		Messages: []types.Message{{
			Role:    "user",
			Content: renderReportInput(input),
		}},
		SchemaName: "final_report",
		Schema:     finalReportSchema,
	}, &wire)
	if err != nil {
		return nil, err
	}

	return &review.FinalReport{
		TechnicalUnderstanding: clampScore(wire.TechnicalUnderstanding),
		ProjectOwnership:       clampScore(wire.ProjectOwnership),
		CommunicationClarity:   clampScore(wire.CommunicationClarity),
		AIContentConcerns:      wire.AIContentConcerns,
		KnowledgeGaps:          wire.KnowledgeGaps,
		OverallAssessment:      wire.OverallAssessment,
		Recommendation:         wire.Recommendation,
		NextSteps:              wire.NextSteps,
	}, nil
}

// renderReportInput flattens the report input into the task's user message.
func renderReportInput(input ReportInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Candidate: %s\nProject: %s\n", input.Candidate.DisplayName, input.Artifact.Title)
	if input.Artifact.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", input.Artifact.Description)
	}

	if input.Detection != nil {
		fmt.Fprintf(&sb, "\nAI-content detection: %s (confidence %d%%), %d of %d sections flagged.\n",
			input.Detection.OverallResult, input.Detection.OverallConfidence,
			input.Detection.AILikelySections, input.Detection.TotalSections)
	}

	evalByID := make(map[string]review.Evaluation, len(input.Evaluations))
	for _, e := range input.Evaluations {
		evalByID[e.QuestionID] = e
	}

	sb.WriteString("\nQuestions and evaluations:\n")
	for i, q := range input.Asked {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, q.Level, q.Text)
		if e, ok := evalByID[q.ID]; ok {
			fmt.Fprintf(&sb, "   Score %d/10. %s\n", e.Score, e.Feedback)
			if len(e.FlaggedConcerns) > 0 {
				fmt.Fprintf(&sb, "   Concerns: %s\n", strings.Join(e.FlaggedConcerns, "; "))
			}
		} else {
			sb.WriteString("   Not answered (skipped after timeout).\n")
		}
	}
	return sb.String()
}

// slideText renders a slide for the detection task.
func slideText(s retrieval.Slide) string {
	parts := make([]string, 0, 2+len(s.Bullets))
	if s.Title != "" {
		parts = append(parts, s.Title)
	}
	if s.Content != "" {
		parts = append(parts, s.Content)
	}
	parts = append(parts, s.Bullets...)
	return strings.Join(parts, "\n")
}

// clampScore bounds a model-produced score to [1, 10].
func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
