package openai

import (
	"testing"

	"github.com/kaizen403/vivavoce/pkg/provider/llm"
	"github.com/kaizen403/vivavoce/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("key", "gpt-4o-mini"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p, err := New("key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a project reviewer.",
		Messages: []types.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	})

	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages (system + 2), got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("third message should be the assistant turn")
	}
}

func TestBuildParams_OptionalFields(t *testing.T) {
	p, _ := New("key", "gpt-4o-mini")

	zero := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if zero.Temperature.Valid() {
		t.Error("temperature should be unset when zero")
	}
	if zero.MaxCompletionTokens.Valid() {
		t.Error("max tokens should be unset when zero")
	}

	set := p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   512,
	})
	if !set.Temperature.Valid() || set.Temperature.Value != 0.3 {
		t.Errorf("temperature = %+v, want 0.3", set.Temperature)
	}
	if !set.MaxCompletionTokens.Valid() || set.MaxCompletionTokens.Value != 512 {
		t.Errorf("max tokens = %+v, want 512", set.MaxCompletionTokens)
	}
}

func TestConvertMessage_UnknownRoleDegradesToUser(t *testing.T) {
	msg := convertMessage(types.Message{Role: "narrator", Content: "scene"})
	if msg.OfUser == nil {
		t.Error("unknown role should convert to a user message")
	}
}
