package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ApplyEnv overlays recognised environment variables onto cfg. A set variable
// always wins over the file value; unset variables leave the file value
// untouched. Provider credentials (OPENAI_API_KEY, DEEPGRAM_API_KEY,
// CARTESIA_API_KEY) are read here too so the runtime can inject them without
// touching the config file.
func ApplyEnv(cfg *Config) {
	// --- LLM ---
	setStr(&cfg.Providers.LLM.Name, "LLM_PROVIDER")
	setStr(&cfg.Providers.LLM.Model, "LLM_MODEL")
	setFloat(&cfg.Providers.LLM.Temperature, "LLM_TEMPERATURE")
	setInt(&cfg.Providers.LLM.MaxTokens, "LLM_MAX_TOKENS")
	setStr(&cfg.Providers.LLM.APIKey, "OPENAI_API_KEY")
	setStr(&cfg.Providers.LLM.BaseURL, "LLM_BASE_URL")

	// --- STT ---
	setStr(&cfg.Providers.STT.Name, "STT_PROVIDER")
	setStr(&cfg.Providers.STT.Model, "STT_MODEL")
	setStr(&cfg.Providers.STT.Language, "STT_LANGUAGE")
	setStr(&cfg.Providers.STT.APIKey, "DEEPGRAM_API_KEY")

	// --- TTS ---
	setStr(&cfg.Providers.TTS.Name, "TTS_PROVIDER")
	setStr(&cfg.Providers.TTS.Model, "TTS_MODEL")
	setStr(&cfg.Providers.TTS.Language, "TTS_LANGUAGE")
	setStr(&cfg.Providers.TTS.APIKey, "CARTESIA_API_KEY")
	setStr(&cfg.Dialogue.VoiceID, "TTS_VOICE_ID")

	// --- Embeddings ---
	setStr(&cfg.Providers.Embeddings.Model, "EMBEDDING_MODEL")

	// --- Retrieval ---
	setStr(&cfg.Retrieval.PostgresDSN, "DATABASE_URL")

	// --- VAD / endpointing ---
	setFloat(&cfg.Dialogue.ActivationThreshold, "VAD_ACTIVATION_THRESHOLD")
	setFloat(&cfg.Dialogue.DeactivationThreshold, "VAD_DEACTIVATION_THRESHOLD")
	setInt(&cfg.Dialogue.MinSpeechMs, "VAD_MIN_SPEECH_MS")
	setInt(&cfg.Dialogue.MinSilenceMs, "VAD_MIN_SILENCE_MS")
	setInt(&cfg.Dialogue.PaddingMs, "VAD_PADDING_MS")

	// --- Timers ---
	setDuration(&cfg.Checkpoint.Interval, "CHECKPOINT_INTERVAL")
	setDuration(&cfg.Dialogue.AnswerTimeout, "ANSWER_TIMEOUT")
}

// setStr overwrites dst with the env value when set and non-empty.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst with the parsed env value when set and valid.
func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
		return
	}
	*dst = n
}

// setFloat overwrites dst with the parsed env value when set and valid.
func setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid float environment variable", "key", key, "value", v)
		return
	}
	*dst = f
}

// setDuration overwrites dst with the parsed env value when set and valid.
// Bare numbers are taken as seconds ("90" == "90s").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration environment variable", "key", key, "value", v)
		return
	}
	*dst = d
}
