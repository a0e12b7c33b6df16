package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o-mini
    temperature: 0.2
  stt:
    name: deepgram
    model: nova-3
    language: en
  tts:
    name: cartesia
    model: sonic-2
  embeddings:
    name: openai
    model: text-embedding-3-small
  vad:
    name: energy
retrieval:
  postgres_dsn: postgres://localhost/vivavoce
  embedding_dimensions: 1536
checkpoint:
  interval: 60s
  keep: 10
dialogue:
  voice_id: reviewer-en
  answer_timeout: 90s
  vad_activation_threshold: 0.5
  vad_deactivation_threshold: 0.35
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Providers.STT.Language != "en" {
		t.Errorf("stt language = %q", cfg.Providers.STT.Language)
	}
	if cfg.Checkpoint.Interval != 60*time.Second {
		t.Errorf("checkpoint interval = %v", cfg.Checkpoint.Interval)
	}
	if cfg.Dialogue.VoiceID != "reviewer-en" {
		t.Errorf("voice id = %q", cfg.Dialogue.VoiceID)
	}
	if cfg.Dialogue.AnswerTimeout != 90*time.Second {
		t.Errorf("answer timeout = %v", cfg.Dialogue.AnswerTimeout)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("mystery_field: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := &Config{Server: ServerConfig{LogLevel: "verbose"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate_VADThresholdOrder(t *testing.T) {
	cfg := &Config{Dialogue: DialogueConfig{
		ActivationThreshold:   0.3,
		DeactivationThreshold: 0.6,
	}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for inverted thresholds")
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("LLM_MAX_TOKENS", "2048")
	t.Setenv("STT_PROVIDER", "deepgram")
	t.Setenv("STT_LANGUAGE", "de-DE")
	t.Setenv("TTS_VOICE_ID", "voice-42")
	t.Setenv("ANSWER_TIMEOUT", "120")
	t.Setenv("CHECKPOINT_INTERVAL", "30s")
	t.Setenv("VAD_MIN_SPEECH_MS", "300")

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("llm model = %q, env should win", cfg.Providers.LLM.Model)
	}
	if cfg.Providers.LLM.Temperature != 0.7 {
		t.Errorf("temperature = %v", cfg.Providers.LLM.Temperature)
	}
	if cfg.Providers.LLM.MaxTokens != 2048 {
		t.Errorf("max tokens = %d", cfg.Providers.LLM.MaxTokens)
	}
	if cfg.Providers.STT.Language != "de-DE" {
		t.Errorf("stt language = %q", cfg.Providers.STT.Language)
	}
	if cfg.Dialogue.VoiceID != "voice-42" {
		t.Errorf("voice id = %q", cfg.Dialogue.VoiceID)
	}
	if cfg.Dialogue.AnswerTimeout != 120*time.Second {
		t.Errorf("answer timeout = %v (bare seconds)", cfg.Dialogue.AnswerTimeout)
	}
	if cfg.Checkpoint.Interval != 30*time.Second {
		t.Errorf("checkpoint interval = %v", cfg.Checkpoint.Interval)
	}
	if cfg.Dialogue.MinSpeechMs != 300 {
		t.Errorf("min speech = %d", cfg.Dialogue.MinSpeechMs)
	}
}

func TestApplyEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("LLM_MAX_TOKENS", "many")
	t.Setenv("LLM_TEMPERATURE", "warm")
	t.Setenv("ANSWER_TIMEOUT", "soon")

	cfg := &Config{}
	ApplyEnv(cfg)

	if cfg.Providers.LLM.MaxTokens != 0 {
		t.Errorf("max tokens = %d, want untouched", cfg.Providers.LLM.MaxTokens)
	}
	if cfg.Providers.LLM.Temperature != 0 {
		t.Errorf("temperature = %v, want untouched", cfg.Providers.LLM.Temperature)
	}
	if cfg.Dialogue.AnswerTimeout != 0 {
		t.Errorf("answer timeout = %v, want untouched", cfg.Dialogue.AnswerTimeout)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	cfg := Default()
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Providers.LLM.Model)
	}
}
