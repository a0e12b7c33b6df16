// Command vivavoce runs one AI project-review session: it is spawned by the
// agent runner with room metadata, binds to the room's media bridge, and
// drives the review workflow until the session completes or the room goes
// away.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kaizen403/vivavoce/internal/checkpoint"
	"github.com/kaizen403/vivavoce/internal/config"
	"github.com/kaizen403/vivavoce/internal/observe"
	"github.com/kaizen403/vivavoce/internal/orchestrator"
	"github.com/kaizen403/vivavoce/internal/room"
	"github.com/kaizen403/vivavoce/internal/room/wsroom"
	"github.com/kaizen403/vivavoce/pkg/provider/asr"
	"github.com/kaizen403/vivavoce/pkg/provider/asr/deepgram"
	"github.com/kaizen403/vivavoce/pkg/provider/embeddings"
	embopenai "github.com/kaizen403/vivavoce/pkg/provider/embeddings/openai"
	"github.com/kaizen403/vivavoce/pkg/provider/llm"
	"github.com/kaizen403/vivavoce/pkg/provider/llm/anyllm"
	llmopenai "github.com/kaizen403/vivavoce/pkg/provider/llm/openai"
	"github.com/kaizen403/vivavoce/pkg/provider/tts"
	"github.com/kaizen403/vivavoce/pkg/provider/tts/cartesia"
	"github.com/kaizen403/vivavoce/pkg/provider/vad/energy"
	"github.com/kaizen403/vivavoce/pkg/retrieval"
	retrievalmock "github.com/kaizen403/vivavoce/pkg/retrieval/mock"
	retrievalpg "github.com/kaizen403/vivavoce/pkg/retrieval/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	metadataFlag := flag.String("metadata", "", "room metadata JSON, or @path to a file; falls back to ROOM_METADATA")
	flag.Parse()

	// The runner may ship credentials in a .env beside the binary.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vivavoce: %v\n", err)
			return 1
		}
	} else {
		cfg = config.Default()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Room metadata ─────────────────────────────────────────────────────────
	meta, err := loadMetadata(*metadataFlag)
	if err != nil {
		slog.Error("failed to load room metadata", "err", err)
		return 1
	}

	slog.Info("vivavoce starting",
		"session_id", meta.SessionID,
		"room", meta.RoomName,
		"project", meta.ProjectTitle,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vivavoce",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shCtx)
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	llmP, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}
	asrP, err := buildASR(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "err", err)
		return 1
	}
	ttsP, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to create tts provider", "err", err)
		return 1
	}
	embP, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to create embeddings provider", "err", err)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	chunkStore, ckptStore, closeStores, err := buildStores(ctx, cfg, embP)
	if err != nil {
		slog.Error("failed to initialise stores", "err", err)
		return 1
	}
	defer closeStores()

	// ── Room ──────────────────────────────────────────────────────────────────
	wsURL := os.Getenv("ROOM_WS_URL")
	if wsURL == "" {
		slog.Error("ROOM_WS_URL is not set; the runner must provide the media bridge address")
		return 1
	}
	rm, err := wsroom.Dial(ctx, wsURL)
	if err != nil {
		slog.Error("failed to join room", "err", err)
		return 1
	}
	defer rm.Close()

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orch, err := orchestrator.New(meta, orchestrator.Deps{
		Room:        rm,
		ASR:         asrP,
		TTS:         ttsP,
		VAD:         energy.New(),
		LLM:         llmP,
		Embeddings:  embP,
		Store:       chunkStore,
		Checkpoints: ckptStore,
		Cfg:         cfg,
	})
	if err != nil {
		slog.Error("failed to initialise orchestrator", "err", err)
		return 1
	}

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session failed", "err", err)
		return 1
	}
	slog.Info("session ended cleanly", "session_id", meta.SessionID)
	return 0
}

// loadMetadata reads the room metadata from the flag value ("@file" or inline
// JSON) or from the ROOM_METADATA environment variable.
func loadMetadata(flagValue string) (room.Metadata, error) {
	raw := flagValue
	if raw == "" {
		raw = os.Getenv("ROOM_METADATA")
	}
	if raw == "" {
		return room.Metadata{}, errors.New("no room metadata: pass --metadata or set ROOM_METADATA")
	}
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return room.Metadata{}, fmt.Errorf("read metadata file: %w", err)
		}
		raw = string(data)
	}
	return room.ParseMetadata([]byte(raw))
}

// ── Provider construction ─────────────────────────────────────────────────────

// buildLLM creates the chat provider. Names of the form "anyllm:<backend>"
// select the any-llm-go universal adapter; everything else uses the native
// OpenAI-compatible adapter.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	model := entry.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	if backend, ok := strings.CutPrefix(entry.Name, "anyllm:"); ok {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, model, opts...)
	}

	var opts []llmopenai.Option
	if entry.BaseURL != "" {
		opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
	}
	return llmopenai.New(entry.APIKey, model, opts...)
}

// buildASR creates the streaming recognizer.
func buildASR(entry config.ProviderEntry) (asr.Provider, error) {
	var opts []deepgram.Option
	if entry.Model != "" {
		opts = append(opts, deepgram.WithModel(entry.Model))
	}
	if entry.Language != "" {
		opts = append(opts, deepgram.WithLanguage(entry.Language))
	}
	return deepgram.New(entry.APIKey, opts...)
}

// buildTTS creates the streaming synthesizer.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	var opts []cartesia.Option
	if entry.Model != "" {
		opts = append(opts, cartesia.WithModel(entry.Model))
	}
	return cartesia.New(entry.APIKey, opts...)
}

// buildEmbeddings creates the embedding provider.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	apiKey := entry.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return embopenai.New(apiKey, entry.Model)
}

// buildStores wires the chunk and checkpoint stores: PostgreSQL when a DSN is
// configured, in-memory otherwise (single-process development runs).
func buildStores(ctx context.Context, cfg *config.Config, embP embeddings.Provider) (retrieval.Store, checkpoint.Store, func(), error) {
	if cfg.Retrieval.PostgresDSN == "" {
		slog.Warn("no postgres DSN configured; using in-memory stores")
		return retrievalmock.NewStore(), checkpoint.NewMemoryStore(cfg.Checkpoint.Keep), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Retrieval.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	dims := cfg.Retrieval.EmbeddingDimensions
	if dims <= 0 {
		dims = embP.Dimensions()
	}
	if err := retrievalpg.Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	chunks := retrievalpg.NewStoreFromPool(pool)

	ckpts, err := checkpoint.NewPostgresStore(ctx, pool, cfg.Checkpoint.Keep)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return chunks, ckpts, pool.Close, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	slog.Info("provider configuration",
		"llm", summarise(cfg.Providers.LLM),
		"stt", summarise(cfg.Providers.STT),
		"tts", summarise(cfg.Providers.TTS),
		"embeddings", summarise(cfg.Providers.Embeddings),
		"vad", "energy",
		"postgres", cfg.Retrieval.PostgresDSN != "",
	)
}

func summarise(entry config.ProviderEntry) string {
	name := entry.Name
	if name == "" {
		name = "(default)"
	}
	if entry.Model != "" {
		return name + "/" + entry.Model
	}
	return name
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
