package review

import (
	"fmt"
	"time"

	"github.com/kaizen403/vivavoce/pkg/types"
)

// Delta is a partial state update returned by a workflow node. The engine
// merges deltas into the live State with fixed per-field reducers: array
// fields append, scalar fields are last-write-wins, and the question pool is
// replaced wholesale when set.
//
// Pointer fields distinguish "unset" from "set to the zero value".
type Delta struct {
	// Phase, when set, transitions the session phase. The transition must be
	// legal under the phase DAG or Apply fails.
	Phase *Phase

	// Artifact, when set, replaces the artifact reference (upload received).
	Artifact *ArtifactRef

	// SetCurrentQuestion marks CurrentQuestion as intentionally written, so a
	// nil value clears the field.
	SetCurrentQuestion bool
	CurrentQuestion    *Question

	// CurrentLevel, when set, advances the difficulty tier.
	CurrentLevel *Level

	// Pool, when non-nil, replaces the question pool (last-write-wins).
	Pool map[Level][]Question

	// AppendAsked appends to the asked-questions sequence.
	AppendAsked []Question

	// AppendEvaluations appends to the evaluations sequence.
	AppendEvaluations []Evaluation

	// AppendTranscript appends dialogue entries.
	AppendTranscript []types.TranscriptEntry

	// LastUtterance, when set, records the reviewer's most recent line.
	LastUtterance *string

	// Conn, when set, updates the connection state.
	Conn *ConnState

	// Heartbeat, when set, refreshes the liveness timestamp.
	Heartbeat *time.Time

	// QuestionStartedAt, when set, stamps when the current question was asked.
	QuestionStartedAt *time.Time

	// AnswerTimeouts, when set, overwrites the consecutive-timeout counter.
	AnswerTimeouts *int

	// ErrorCountDelta increments the session error counter.
	ErrorCountDelta int

	// LastError, when set, records the most recent failure message.
	LastError *string

	// Detection, when set, stores the AI-content detection report.
	Detection *DetectionReport

	// Report, when set, stores the final report.
	Report *FinalReport
}

// Apply merges d into s. It fails — leaving s untouched in its pre-phase —
// only when d requests an illegal phase transition; all other fields merge
// unconditionally.
func (s *State) Apply(d Delta) error {
	if d.Phase != nil && !s.Phase.CanTransitionTo(*d.Phase) {
		return fmt.Errorf("review: illegal phase transition %s → %s", s.Phase, *d.Phase)
	}

	if d.Phase != nil {
		s.Phase = *d.Phase
	}
	if d.Artifact != nil {
		s.Artifact = *d.Artifact
	}
	if d.SetCurrentQuestion {
		s.CurrentQuestion = d.CurrentQuestion
	}
	if d.CurrentLevel != nil {
		s.CurrentLevel = *d.CurrentLevel
	}
	if d.Pool != nil {
		s.Pool = d.Pool
	}

	s.Asked = append(s.Asked, d.AppendAsked...)
	s.Evaluations = append(s.Evaluations, d.AppendEvaluations...)
	s.Transcript = append(s.Transcript, d.AppendTranscript...)

	if d.LastUtterance != nil {
		s.LastUtterance = *d.LastUtterance
	}
	if d.Conn != nil {
		s.Conn = *d.Conn
	}
	if d.Heartbeat != nil {
		s.LastHeartbeat = *d.Heartbeat
	}
	if d.QuestionStartedAt != nil {
		s.QuestionStartedAt = *d.QuestionStartedAt
	}
	if d.AnswerTimeouts != nil {
		s.AnswerTimeouts = *d.AnswerTimeouts
	}

	s.ErrorCount += d.ErrorCountDelta
	if d.LastError != nil {
		s.LastError = *d.LastError
	}

	if d.Detection != nil {
		s.Detection = d.Detection
	}
	if d.Report != nil {
		s.Report = d.Report
	}
	return nil
}

// ptr returns a pointer to v. Convenience for building deltas.
func ptr[T any](v T) *T { return &v }

// PhaseDelta builds a delta that only transitions the phase.
func PhaseDelta(p Phase) Delta {
	return Delta{Phase: ptr(p)}
}

// ErrorDelta builds a delta recording a node failure.
func ErrorDelta(err error) Delta {
	return Delta{
		ErrorCountDelta: 1,
		LastError:       ptr(err.Error()),
	}
}

// SpokenDelta builds a delta appending a reviewer utterance to the transcript
// and recording it as the last utterance.
func SpokenDelta(text string, at time.Time) Delta {
	return Delta{
		LastUtterance: ptr(text),
		AppendTranscript: []types.TranscriptEntry{
			{Role: types.RoleReviewer, Text: text, Timestamp: at},
		},
	}
}
