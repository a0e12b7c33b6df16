package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anyllm:openai", "anyllm:anthropic", "anyllm:gemini", "anyllm:ollama", "anyllm:deepseek", "anyllm:mistral", "anyllm:groq", "anyllm:llamacpp", "anyllm:llamafile"},
	"stt":        {"deepgram"},
	"tts":        {"cartesia"},
	"embeddings": {"openai"},
	"vad":        {"energy"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a zero-valued config with environment overrides applied —
// the path taken when no config file exists. Fields left at zero are filled
// by the defaults of the components that consume them.
func Default() *Config {
	cfg := &Config{}
	ApplyEnv(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.Embeddings.Name != "" && cfg.Retrieval.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but retrieval.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Retrieval.PostgresDSN == "" {
		slog.Warn("retrieval.postgres_dsn is empty; chunks and checkpoints will not survive a restart")
	}
	if cfg.Retrieval.UseMockSlides {
		slog.Warn("retrieval.use_mock_slides is enabled — development mode only")
	}

	if d := cfg.Dialogue; d.DeactivationThreshold > d.ActivationThreshold && d.ActivationThreshold > 0 {
		errs = append(errs, fmt.Errorf("dialogue.vad_deactivation_threshold %v exceeds activation threshold %v",
			d.DeactivationThreshold, d.ActivationThreshold))
	}

	return errors.Join(errs...)
}

// validateProviderName warns (but does not fail) on provider names outside
// the known set, so new adapters can be configured before this list learns
// about them.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind])
	}
}
