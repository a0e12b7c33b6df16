package review

import (
	"errors"
	"testing"
	"time"

	"github.com/kaizen403/vivavoce/pkg/types"
)

func newTestState() *State {
	return NewState("sess-1", "room-1",
		Candidate{ID: "cand-1", DisplayName: "Alex"},
		ArtifactRef{Title: "Demo Project", Text: "Slide 1: Overview\nhello"},
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	)
}

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseUpload, PhaseParsing, true},
		{PhaseParsing, PhaseAIDetection, true},
		{PhaseAIDetection, PhaseQuestionGeneration, true},
		{PhaseQuestionGeneration, PhaseQuestioning, true},
		{PhaseQuestioning, PhaseReportGeneration, true},
		{PhaseReportGeneration, PhaseCompleted, true},
		{PhaseUpload, PhaseUpload, true},
		{PhaseUpload, PhaseError, true},
		{PhaseQuestioning, PhaseError, true},
		{PhaseUpload, PhaseQuestioning, false},
		{PhaseQuestioning, PhaseParsing, false},
		{PhaseCompleted, PhaseError, false},
		{PhaseError, PhaseUpload, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestApply_IllegalPhaseRejected(t *testing.T) {
	s := newTestState()
	err := s.Apply(PhaseDelta(PhaseQuestioning))
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
	if s.Phase != PhaseUpload {
		t.Errorf("phase mutated to %s on failed apply", s.Phase)
	}
}

func TestApply_Reducers(t *testing.T) {
	s := newTestState()

	q1 := Question{ID: "q1", Level: LevelEasy, Text: "What problem does this solve?"}
	q2 := Question{ID: "q2", Level: LevelMedium, Text: "Why a queue?"}

	if err := s.Apply(Delta{
		AppendAsked:      []Question{q1},
		AppendTranscript: []types.TranscriptEntry{{Role: types.RoleReviewer, Text: "hi"}},
		LastUtterance:    ptr("hi"),
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(Delta{
		AppendAsked:       []Question{q2},
		AppendEvaluations: []Evaluation{{QuestionID: "q1", Score: 7}},
		LastUtterance:     ptr("next question"),
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(s.Asked) != 2 || s.Asked[0].ID != "q1" || s.Asked[1].ID != "q2" {
		t.Errorf("Asked = %v", s.Asked)
	}
	if len(s.Evaluations) != 1 {
		t.Errorf("Evaluations = %v", s.Evaluations)
	}
	if s.LastUtterance != "next question" {
		t.Errorf("LastUtterance = %q (scalar should be last-write-wins)", s.LastUtterance)
	}
}

func TestApply_PoolLastWriteWins(t *testing.T) {
	s := newTestState()

	first := map[Level][]Question{LevelEasy: {{ID: "a"}}}
	second := map[Level][]Question{LevelEasy: {{ID: "b"}, {ID: "c"}}}

	_ = s.Apply(Delta{Pool: first})
	_ = s.Apply(Delta{Pool: second})

	if len(s.Pool[LevelEasy]) != 2 || s.Pool[LevelEasy][0].ID != "b" {
		t.Errorf("Pool = %v, want full replacement", s.Pool)
	}
}

func TestApply_ClearCurrentQuestion(t *testing.T) {
	s := newTestState()
	q := Question{ID: "q1"}

	_ = s.Apply(Delta{SetCurrentQuestion: true, CurrentQuestion: &q})
	if s.CurrentQuestion == nil || s.CurrentQuestion.ID != "q1" {
		t.Fatal("current question not set")
	}

	_ = s.Apply(Delta{SetCurrentQuestion: true, CurrentQuestion: nil})
	if s.CurrentQuestion != nil {
		t.Error("current question not cleared")
	}

	// A delta without the flag leaves the field alone.
	_ = s.Apply(Delta{SetCurrentQuestion: true, CurrentQuestion: &q})
	_ = s.Apply(Delta{})
	if s.CurrentQuestion == nil {
		t.Error("current question clobbered by unrelated delta")
	}
}

func TestNextQuestion_LevelOrder(t *testing.T) {
	s := newTestState()
	s.Pool = map[Level][]Question{
		LevelMedium: {{ID: "m1", Level: LevelMedium}},
		LevelHard:   {{ID: "h1", Level: LevelHard}},
	}

	q, ok := s.NextQuestion()
	if !ok || q.ID != "m1" {
		t.Errorf("NextQuestion = %+v (empty easy level should be skipped)", q)
	}

	s.Pool = map[Level][]Question{}
	if _, ok := s.NextQuestion(); ok {
		t.Error("NextQuestion should report exhaustion on empty pool")
	}
}

func TestClone_Independence(t *testing.T) {
	s := newTestState()
	s.Pool[LevelEasy] = []Question{{ID: "q1", ExpectedPoints: []string{"p1"}}}
	s.Asked = []Question{{ID: "q0"}}
	s.Evaluations = []Evaluation{{QuestionID: "q0", Score: 5, FlaggedConcerns: []string{"vague"}}}
	s.Transcript = []types.TranscriptEntry{{Role: types.RoleCandidate, Text: "hello"}}
	q := Question{ID: "cur"}
	s.CurrentQuestion = &q
	s.Report = &FinalReport{Recommendation: "pass", NextSteps: []string{"offer"}}

	c := s.Clone()

	// Mutate the clone in every nested structure.
	c.Pool[LevelEasy][0].ExpectedPoints[0] = "mutated"
	c.Asked[0].ID = "mutated"
	c.Evaluations[0].FlaggedConcerns[0] = "mutated"
	c.Transcript[0].Text = "mutated"
	c.CurrentQuestion.ID = "mutated"
	c.Report.NextSteps[0] = "mutated"

	if s.Pool[LevelEasy][0].ExpectedPoints[0] != "p1" {
		t.Error("pool not deep-copied")
	}
	if s.Asked[0].ID != "q0" {
		t.Error("asked not deep-copied")
	}
	if s.Evaluations[0].FlaggedConcerns[0] != "vague" {
		t.Error("evaluations not deep-copied")
	}
	if s.Transcript[0].Text != "hello" {
		t.Error("transcript not deep-copied")
	}
	if s.CurrentQuestion.ID != "cur" {
		t.Error("current question not deep-copied")
	}
	if s.Report.NextSteps[0] != "offer" {
		t.Error("report not deep-copied")
	}
}

func TestValidate(t *testing.T) {
	s := newTestState()
	s.Asked = []Question{{ID: "q1"}, {ID: "q2"}}
	s.Evaluations = []Evaluation{{QuestionID: "q1"}}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	s.Evaluations = append(s.Evaluations, Evaluation{}, Evaluation{})
	if err := s.Validate(); err == nil {
		t.Error("expected error: evaluations exceed asked")
	}

	s = newTestState()
	s.Asked = []Question{{ID: "dup"}, {ID: "dup"}}
	if err := s.Validate(); err == nil {
		t.Error("expected error: duplicate asked ids")
	}

	s = newTestState()
	s.Asked = []Question{{ID: "q1"}}
	s.Pool[LevelEasy] = []Question{{ID: "q1"}}
	if err := s.Validate(); err == nil {
		t.Error("expected error: id shared between pool and asked")
	}
}

func TestErrorDelta(t *testing.T) {
	s := newTestState()
	_ = s.Apply(ErrorDelta(errors.New("llm unavailable")))
	_ = s.Apply(ErrorDelta(errors.New("still down")))

	if s.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", s.ErrorCount)
	}
	if s.LastError != "still down" {
		t.Errorf("LastError = %q", s.LastError)
	}
}
