package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kaizen403/vivavoce/internal/checkpoint"
	"github.com/kaizen403/vivavoce/internal/config"
	"github.com/kaizen403/vivavoce/internal/review"
	"github.com/kaizen403/vivavoce/internal/room"
	roommock "github.com/kaizen403/vivavoce/internal/room/mock"
	asrmock "github.com/kaizen403/vivavoce/pkg/provider/asr/mock"
	embmock "github.com/kaizen403/vivavoce/pkg/provider/embeddings/mock"
	"github.com/kaizen403/vivavoce/pkg/provider/llm"
	llmmock "github.com/kaizen403/vivavoce/pkg/provider/llm/mock"
	ttsmock "github.com/kaizen403/vivavoce/pkg/provider/tts/mock"
	vadmock "github.com/kaizen403/vivavoce/pkg/provider/vad/mock"
	storemock "github.com/kaizen403/vivavoce/pkg/retrieval/mock"
)

const deckText = `Slide 1: Overview
A queue-based ingestion system.
Slide 2: Architecture
API gateway, worker pool, Postgres.
Slide 3: Results
2.4x throughput over baseline.
`

// sessionFixture wires an orchestrator over mocks plus a simulated candidate
// that answers every question the reviewer asks.
type sessionFixture struct {
	orch   *Orchestrator
	rm     *roommock.Room
	asrS   *asrmock.Session
	tts    *ttsmock.Provider
	ckpts  *checkpoint.MemoryStore
	store  *storemock.Store
	llmP   *llmmock.Provider
	stopMu sync.Mutex
	stop   bool
}

func newFixture(t *testing.T, meta room.Metadata, questionCount int) *sessionFixture {
	t.Helper()

	provider := &llmmock.Provider{}
	provider.StructuredFallback = func(req llm.StructuredRequest) (json.RawMessage, error) {
		switch req.SchemaName {
		case "ai_content_detection":
			return json.RawMessage(`{"result":"likely_human","confidence":80,"indicators":[],"explanation":"specific"}`), nil
		case "question_generation":
			if strings.Contains(req.SystemPrompt, "easy") {
				var qs []string
				for i := 0; i < questionCount; i++ {
					qs = append(qs, fmt.Sprintf(`{"question":"Question %d, can you explain?","context":"c","expected_points":["p"],"slide_reference":"Slide 1"}`, i+1))
				}
				return json.RawMessage(`{"questions":[` + strings.Join(qs, ",") + `]}`), nil
			}
			return json.RawMessage(`{"questions":[]}`), nil
		case "answer_evaluation":
			return json.RawMessage(`{"score":7,"feedback":"fine","demonstrates_understanding":true,"flagged_concerns":[]}`), nil
		case "final_report":
			return json.RawMessage(`{"technical_understanding":7,"project_ownership":7,"communication_clarity":7,"ai_content_concerns":[],"knowledge_gaps":[],"overall_assessment":"ok","recommendation":"pass","next_steps":[]}`), nil
		default:
			return nil, fmt.Errorf("unexpected schema %q", req.SchemaName)
		}
	}

	rm := roommock.NewRoom()
	asrSess := asrmock.NewSession()
	ttsP := &ttsmock.Provider{}
	ckpts := checkpoint.NewMemoryStore(20)
	store := storemock.NewStore()

	cfg := config.Default()
	cfg.Dialogue.AnswerTimeout = 2 * time.Second

	orch, err := New(meta, Deps{
		Room:        rm,
		ASR:         &asrmock.Provider{Session: asrSess},
		TTS:         ttsP,
		VAD:         &vadmock.Engine{},
		LLM:         provider,
		Embeddings:  &embmock.Provider{Dim: 32},
		Store:       store,
		Checkpoints: ckpts,
		Fetch: func(context.Context, string) (string, error) {
			return deckText, nil
		},
		Cfg: cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &sessionFixture{orch: orch, rm: rm, asrS: asrSess, tts: ttsP, ckpts: ckpts, store: store, llmP: provider}
}

// simulateCandidate answers each spoken question and disconnects after the
// closing line.
func (f *sessionFixture) simulateCandidate(t *testing.T) {
	t.Helper()
	go func() {
		answered := 0
		for {
			f.stopMu.Lock()
			if f.stop {
				f.stopMu.Unlock()
				return
			}
			f.stopMu.Unlock()

			lines := f.tts.SpokenTexts()

			closing := false
			questions := 0
			for _, l := range lines {
				if strings.Contains(l, "concludes our review") ||
					strings.Contains(l, "Please contact support") {
					closing = true
				}
				if strings.HasSuffix(l, "?") {
					questions++
				}
			}
			if closing {
				f.rm.Disconnect("review finished")
				return
			}
			if questions > answered {
				answered = questions
				f.asrS.EmitFinal("The design decouples producers from consumers.")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func (f *sessionFixture) stopCandidate() {
	f.stopMu.Lock()
	f.stop = true
	f.stopMu.Unlock()
}

func TestRun_HappyPathWithInlineArtifact(t *testing.T) {
	meta := room.Metadata{
		AgentType:     room.AgentTypeProjectReview,
		SessionID:     "sess-1",
		RoomName:      "room-1",
		CandidateName: "Alex",
		ProjectTitle:  "Queue Pipeline",
		PPTContent:    deckText,
	}
	f := newFixture(t, meta, 2)
	f.simulateCandidate(t)
	defer f.stopCandidate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Chunks were ingested for the session.
	if len(f.store.Chunks("sess-1")) == 0 {
		t.Error("no chunks ingested")
	}

	// The final state snapshot reached COMPLETED with evaluations.
	entry, err := f.ckpts.Latest(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry.Snapshot.Phase != review.PhaseCompleted {
		t.Errorf("final phase = %s (last error %q)", entry.Snapshot.Phase, entry.Snapshot.LastError)
	}
	if len(entry.Snapshot.Evaluations) != 2 {
		t.Errorf("evaluations = %d, want 2", len(entry.Snapshot.Evaluations))
	}
	if entry.Snapshot.Report == nil {
		t.Error("no final report on state")
	}

	// Greeting went out first.
	lines := f.tts.SpokenTexts()
	if len(lines) == 0 || !strings.Contains(lines[0], "welcome to your project review") {
		t.Errorf("first spoken line = %v", lines)
	}
}

func TestRun_UploadViaDataChannel(t *testing.T) {
	meta := room.Metadata{
		AgentType:    room.AgentTypeProjectReview,
		SessionID:    "sess-2",
		RoomName:     "room-2",
		ProjectTitle: "Queue Pipeline",
		// No pptUrl / pptContent: the artifact arrives via the data channel.
	}
	f := newFixture(t, meta, 1)
	f.simulateCandidate(t)
	defer f.stopCandidate()

	// Notify the upload shortly after the session starts.
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.rm.DataCh <- room.DataMessage{
			Type: room.MsgPPTUploaded,
			Data: room.DataMessageBody{FileURL: "https://files.example/deck.pptx", FileName: "deck.pptx"},
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.store.Chunks("sess-2")) == 0 {
		t.Error("retrieval index empty after data-channel upload")
	}
	entry, err := f.ckpts.Latest(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry.Snapshot.Phase != review.PhaseCompleted {
		t.Errorf("final phase = %s (last error %q)", entry.Snapshot.Phase, entry.Snapshot.LastError)
	}
	if len(entry.Snapshot.Asked) == 0 {
		t.Error("questioning never began")
	}
}

func TestRun_DisconnectMidSessionWritesConnectionLost(t *testing.T) {
	meta := room.Metadata{
		AgentType:    room.AgentTypeProjectReview,
		SessionID:    "sess-3",
		RoomName:     "room-3",
		ProjectTitle: "Queue Pipeline",
		PPTContent:   deckText,
	}
	f := newFixture(t, meta, 3)

	// No candidate simulation: disconnect while the first question waits for
	// an answer.
	go func() {
		deadline := time.After(5 * time.Second)
		for {
			for _, l := range f.tts.SpokenTexts() {
				if strings.HasSuffix(l, "?") {
					f.rm.Disconnect("network drop")
					return
				}
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	metas, err := f.ckpts.List(context.Background(), "sess-3")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	last := metas[len(metas)-1]
	if last.Reason != checkpoint.ReasonConnectionLost {
		t.Errorf("last checkpoint reason = %s, want connection_lost", last.Reason)
	}

	entry, _ := f.ckpts.ByID(context.Background(), "sess-3", last.ID)
	if entry.Snapshot.Phase.Terminal() {
		t.Errorf("phase = %s, want non-terminal for resumable session", entry.Snapshot.Phase)
	}
	if entry.Snapshot.Conn != review.ConnDisconnected {
		t.Errorf("conn = %s, want disconnected", entry.Snapshot.Conn)
	}
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	meta := room.Metadata{
		AgentType:    room.AgentTypeProjectReview,
		SessionID:    "sess-4",
		RoomName:     "room-4",
		ProjectTitle: "Queue Pipeline",
		PPTContent:   deckText,
	}

	// Seed the checkpoint store with a mid-questioning snapshot: two of three
	// questions already evaluated.
	f := newFixture(t, meta, 3)
	seeded := review.NewState("sess-4", "room-4",
		review.Candidate{ID: "sess-4", DisplayName: "Alex"},
		review.ArtifactRef{Title: "Queue Pipeline", Text: deckText},
		time.Now(),
	)
	seeded.Phase = review.PhaseQuestioning
	seeded.CurrentLevel = review.LevelEasy
	q1 := review.Question{ID: "q1", Level: review.LevelEasy, Text: "Question 1, can you explain?"}
	q2 := review.Question{ID: "q2", Level: review.LevelEasy, Text: "Question 2, can you explain?"}
	q3 := review.Question{ID: "q3", Level: review.LevelEasy, Text: "Question 3, can you explain?"}
	seeded.Asked = []review.Question{q1, q2}
	seeded.Evaluations = []review.Evaluation{
		{QuestionID: "q1", Score: 7},
		{QuestionID: "q2", Score: 6},
	}
	seeded.Pool = map[review.Level][]review.Question{review.LevelEasy: {q3}}
	if _, err := f.ckpts.Save(context.Background(), seeded, checkpoint.Meta{Reason: checkpoint.ReasonConnectionLost}); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	f.simulateCandidate(t)
	defer f.stopCandidate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry, err := f.ckpts.Latest(context.Background(), "sess-4")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry.Snapshot.Phase != review.PhaseCompleted {
		t.Fatalf("final phase = %s (last error %q)", entry.Snapshot.Phase, entry.Snapshot.LastError)
	}
	if len(entry.Snapshot.Asked) != 3 || len(entry.Snapshot.Evaluations) != 3 {
		t.Errorf("resumed session asked=%d evaluations=%d, want 3/3",
			len(entry.Snapshot.Asked), len(entry.Snapshot.Evaluations))
	}

	// The resumed run must not re-ask the first two questions.
	for _, l := range f.tts.SpokenTexts() {
		if strings.Contains(l, "Question 1,") || strings.Contains(l, "Question 2,") {
			t.Errorf("re-asked an already evaluated question: %q", l)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	deps := Deps{}
	if _, err := New(room.Metadata{SessionID: "s"}, deps); err == nil {
		t.Error("expected error for missing dependencies")
	}
	if _, err := New(room.Metadata{AgentType: "poetry-slam", SessionID: "s"}, deps); err == nil {
		t.Error("expected error for unsupported agent type")
	}
	if _, err := New(room.Metadata{}, deps); err == nil {
		t.Error("expected error for missing session id")
	}
}
