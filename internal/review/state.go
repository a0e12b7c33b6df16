// Package review defines the data model of a live review session: phases,
// questions, evaluations, reports, and the single State value the workflow
// engine mutates through merged deltas.
//
// The orchestrator exclusively owns the live State. All mutation goes through
// [State.Apply] so that phase transitions are validated and the array-append /
// scalar-last-write merge discipline is enforced in one place.
package review

import (
	"fmt"
	"time"

	"github.com/kaizen403/vivavoce/pkg/types"
)

// Phase is the coarse lifecycle marker of a session.
type Phase string

// Session phases, in nominal order. ERROR is a sink reachable from any phase.
const (
	PhaseUpload             Phase = "UPLOAD"
	PhaseParsing            Phase = "PARSING"
	PhaseAIDetection        Phase = "AI_DETECTION"
	PhaseQuestionGeneration Phase = "QUESTION_GENERATION"
	PhaseQuestioning        Phase = "QUESTIONING"
	PhaseReportGeneration   Phase = "REPORT_GENERATION"
	PhaseCompleted          Phase = "COMPLETED"
	PhaseError              Phase = "ERROR"
)

// phaseSuccessors is the transition DAG. A phase may always remain itself.
var phaseSuccessors = map[Phase][]Phase{
	PhaseUpload:             {PhaseParsing, PhaseError},
	PhaseParsing:            {PhaseAIDetection, PhaseError},
	PhaseAIDetection:        {PhaseQuestionGeneration, PhaseError},
	PhaseQuestionGeneration: {PhaseQuestioning, PhaseError},
	PhaseQuestioning:        {PhaseReportGeneration, PhaseError},
	PhaseReportGeneration:   {PhaseCompleted, PhaseError},
	PhaseCompleted:          {},
	PhaseError:              {},
}

// CanTransitionTo reports whether next is a legal successor of p. Staying in
// the same phase is always legal.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == next {
		return true
	}
	for _, s := range phaseSuccessors[p] {
		if s == next {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Level is the difficulty tier of a generated question.
type Level string

// Question difficulty levels.
const (
	LevelEasy   Level = "easy"
	LevelMedium Level = "medium"
	LevelHard   Level = "hard"
)

// LevelOrder returns the levels in asking order: easy, then medium, then hard.
func LevelOrder() []Level {
	return []Level{LevelEasy, LevelMedium, LevelHard}
}

// MaxQuestions is the hard ceiling on questions asked per session, regardless
// of pool size.
const MaxQuestions = 10

// Candidate describes the person under review.
type Candidate struct {
	ID          string
	DisplayName string
}

// ArtifactRef identifies the uploaded presentation and carries any
// pre-extracted text supplied with the room metadata.
type ArtifactRef struct {
	// URI is the external object-store location of the upload. May be empty
	// when Text was supplied directly.
	URI string

	// FileName is the original upload name.
	FileName string

	// Title is the project title from the room metadata.
	Title string

	// Description is the optional project description from the room metadata.
	Description string

	// Text is the extracted presentation text, when available.
	Text string
}

// Available reports whether the artifact can be ingested: either extracted
// text or a fetchable URI is present.
func (a ArtifactRef) Available() bool {
	return a.Text != "" || a.URI != ""
}

// Question is one generated review question. Questions are immutable after
// creation.
type Question struct {
	ID             string
	Level          Level
	Text           string
	Context        string
	ExpectedPoints []string
	SlideReference string
}

// Evaluation is the scored assessment of one answered question. Created
// exactly once per answered question.
type Evaluation struct {
	QuestionID                string
	Score                     int // 1..10
	Feedback                  string
	DemonstratesUnderstanding bool
	FlaggedConcerns           []string
}

// SectionDetection is the AI-content verdict for a single slide.
type SectionDetection struct {
	SlideNumber int
	Result      string // likely_ai | possibly_ai | likely_human | uncertain
	Confidence  int    // 0..100
	Indicators  []string
	Explanation string
}

// DetectionReport aggregates per-slide AI-content detection.
type DetectionReport struct {
	OverallResult     string
	OverallConfidence int
	TotalSections     int
	AILikelySections  int
	Sections          []SectionDetection
	Summary           string
}

// FinalReport is the structured outcome of the whole review.
type FinalReport struct {
	TechnicalUnderstanding int // 1..10
	ProjectOwnership       int // 1..10
	CommunicationClarity   int // 1..10
	AIContentConcerns      []string
	KnowledgeGaps          []string
	OverallAssessment      string
	Recommendation         string // pass | conditional_pass | fail | needs_review
	NextSteps              []string
}

// ConnState tracks the room connection.
type ConnState string

// Connection states.
const (
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnDisconnected ConnState = "disconnected"
)

// State is the complete mutable state of one review session. One orchestrator
// instance owns one State; nodes never mutate it directly but return a Delta
// the engine applies.
type State struct {
	SessionID string
	RoomID    string
	Candidate Candidate
	Artifact  ArtifactRef

	Phase Phase

	// CurrentQuestion is the question awaiting an answer, nil between turns.
	CurrentQuestion *Question

	// CurrentLevel is the difficulty tier currently being drawn from.
	CurrentLevel Level

	// Pool holds generated, not-yet-asked questions partitioned by level.
	Pool map[Level][]Question

	// Asked is the ordered list of questions presented so far.
	Asked []Question

	// Evaluations is the ordered list of scored answers. Its length never
	// exceeds len(Asked).
	Evaluations []Evaluation

	// Transcript is the running dialogue record.
	Transcript []types.TranscriptEntry

	// LastUtterance is the most recent reviewer line spoken.
	LastUtterance string

	Conn          ConnState
	LastHeartbeat time.Time

	StartedAt         time.Time
	QuestionStartedAt time.Time
	Accumulated       time.Duration

	// AnswerTimeouts counts consecutive answer timeouts for the current
	// question. Reset when a question is answered or skipped.
	AnswerTimeouts int

	ErrorCount int
	LastError  string

	Detection *DetectionReport
	Report    *FinalReport
}

// NewState builds the initial session state from room metadata values.
func NewState(sessionID, roomID string, candidate Candidate, artifact ArtifactRef, now time.Time) *State {
	phase := PhaseUpload
	return &State{
		SessionID:    sessionID,
		RoomID:       roomID,
		Candidate:    candidate,
		Artifact:     artifact,
		Phase:        phase,
		CurrentLevel: LevelEasy,
		Pool:         make(map[Level][]Question),
		Conn:         ConnConnected,
		StartedAt:    now,
	}
}

// PoolSize returns the total number of questions remaining in the pool.
func (s *State) PoolSize() int {
	n := 0
	for _, qs := range s.Pool {
		n += len(qs)
	}
	return n
}

// NextQuestion returns the next question to ask — easy while available, then
// medium, then hard — without mutating state. The second return is false when
// the pool is exhausted.
func (s *State) NextQuestion() (Question, bool) {
	for _, lvl := range LevelOrder() {
		if qs := s.Pool[lvl]; len(qs) > 0 {
			return qs[0], true
		}
	}
	return Question{}, false
}

// Clone returns a deep copy of the state, suitable for checkpoint snapshots.
// Mutating the clone never affects the original.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s

	if s.Pool != nil {
		cp.Pool = make(map[Level][]Question, len(s.Pool))
		for lvl, qs := range s.Pool {
			cp.Pool[lvl] = cloneQuestions(qs)
		}
	}
	cp.Asked = cloneQuestions(s.Asked)

	if s.Evaluations != nil {
		cp.Evaluations = make([]Evaluation, len(s.Evaluations))
		for i, e := range s.Evaluations {
			e.FlaggedConcerns = cloneStrings(e.FlaggedConcerns)
			cp.Evaluations[i] = e
		}
	}

	if s.Transcript != nil {
		cp.Transcript = make([]types.TranscriptEntry, len(s.Transcript))
		copy(cp.Transcript, s.Transcript)
	}

	if s.CurrentQuestion != nil {
		q := cloneQuestion(*s.CurrentQuestion)
		cp.CurrentQuestion = &q
	}
	if s.Detection != nil {
		d := *s.Detection
		if s.Detection.Sections != nil {
			d.Sections = make([]SectionDetection, len(s.Detection.Sections))
			for i, sec := range s.Detection.Sections {
				sec.Indicators = cloneStrings(sec.Indicators)
				d.Sections[i] = sec
			}
		}
		cp.Detection = &d
	}
	if s.Report != nil {
		r := *s.Report
		r.AIContentConcerns = cloneStrings(s.Report.AIContentConcerns)
		r.KnowledgeGaps = cloneStrings(s.Report.KnowledgeGaps)
		r.NextSteps = cloneStrings(s.Report.NextSteps)
		cp.Report = &r
	}
	return &cp
}

// Validate checks the structural invariants of the state. It is called by
// tests and on checkpoint restore.
func (s *State) Validate() error {
	if len(s.Evaluations) > len(s.Asked) {
		return fmt.Errorf("review: %d evaluations exceed %d asked questions", len(s.Evaluations), len(s.Asked))
	}
	if len(s.Asked) > MaxQuestions {
		return fmt.Errorf("review: %d asked questions exceed ceiling %d", len(s.Asked), MaxQuestions)
	}
	seen := make(map[string]bool)
	for _, q := range s.Asked {
		if seen[q.ID] {
			return fmt.Errorf("review: duplicate asked question id %q", q.ID)
		}
		seen[q.ID] = true
	}
	for _, qs := range s.Pool {
		for _, q := range qs {
			if seen[q.ID] {
				return fmt.Errorf("review: question id %q present in pool and asked", q.ID)
			}
			seen[q.ID] = true
		}
	}
	return nil
}

func cloneQuestion(q Question) Question {
	q.ExpectedPoints = cloneStrings(q.ExpectedPoints)
	return q
}

func cloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = cloneQuestion(q)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
