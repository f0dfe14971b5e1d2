// memoryd runs the conversational memory layer as a standalone
// daemon: an HTTP control API, Prometheus metrics, and a websocket
// feed of memory events for dashboards.
//
// Configuration comes from the environment (a .env file is loaded
// when present). With defaults it serves on :8080 with the mock
// embedder and a chromem-backed store under data/memory/long_term.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"

	"github.com/coda-voice/coda-go-sdk/core"
	"github.com/coda-voice/coda-go-sdk/events"
	"github.com/coda-voice/coda-go-sdk/memory"
	"github.com/coda-voice/coda-go-sdk/memory/embedder/cached"
	"github.com/coda-voice/coda-go-sdk/memory/embedder/mock"
	"github.com/coda-voice/coda-go-sdk/memory/embedder/ollama"
	"github.com/coda-voice/coda-go-sdk/memory/store/chromem"
	"github.com/coda-voice/coda-go-sdk/memory/summarizer/claude"
)

type daemonConfig struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogFile          string
	LogLevel         string

	Embedder     string // mock | ollama
	OllamaModel  string
	OllamaURL    string
	EmbedCache   bool
	SystemPrompt string
	AnthropicKey string

	Memory memory.Config
}

func loadConfig() (daemonConfig, error) {
	cfg := daemonConfig{
		BindAddr:         envOrDefault("MEMORYD_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("MEMORYD_METRICS_NAMESPACE", "memoryd"),
		LogFile:          envOrDefault("MEMORYD_LOG_FILE", ""),
		LogLevel:         envOrDefault("MEMORYD_LOG_LEVEL", "info"),
		Embedder:         strings.ToLower(envOrDefault("MEMORYD_EMBEDDER", "mock")),
		OllamaModel:      envOrDefault("MEMORYD_OLLAMA_MODEL", "nomic-embed-text"),
		OllamaURL:        envOrDefault("MEMORYD_OLLAMA_URL", ""),
		SystemPrompt:     envOrDefault("MEMORYD_SYSTEM_PROMPT", "You are Coda, a helpful voice assistant."),
		AnthropicKey:     strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		ShutdownTimeout:  10 * time.Second,
		EmbedCache:       true,
		Memory:           *memory.DefaultConfig(),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("MEMORYD_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return daemonConfig{}, err
	}
	cfg.EmbedCache, err = boolFromEnv("MEMORYD_EMBED_CACHE", cfg.EmbedCache)
	if err != nil {
		return daemonConfig{}, err
	}

	// nomic-embed-text is 768-wide; keep MiniLM's 384 for the mock.
	if cfg.Embedder == "ollama" {
		cfg.Memory.EmbeddingModel = cfg.OllamaModel
		cfg.Memory.EmbeddingDim = 768
	}

	cfg.Memory.LongTermPath = envOrDefault("MEMORYD_DATA_PATH", cfg.Memory.LongTermPath)
	cfg.Memory.LongTermEnabled, err = boolFromEnv("MEMORYD_LONG_TERM", cfg.Memory.LongTermEnabled)
	if err != nil {
		return daemonConfig{}, err
	}
	cfg.Memory.AutoPersist, err = boolFromEnv("MEMORYD_AUTO_PERSIST", cfg.Memory.AutoPersist)
	if err != nil {
		return daemonConfig{}, err
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"MEMORYD_MAX_TURNS", &cfg.Memory.MaxTurns},
		{"MEMORYD_MAX_TOKENS", &cfg.Memory.MaxTokens},
		{"MEMORYD_EMBEDDING_DIM", &cfg.Memory.EmbeddingDim},
		{"MEMORYD_MAX_MEMORIES", &cfg.Memory.MaxMemories},
		{"MEMORYD_PERSIST_INTERVAL", &cfg.Memory.PersistInterval},
	} {
		*f.dst, err = intFromEnv(f.key, *f.dst)
		if err != nil {
			return daemonConfig{}, err
		}
	}

	if err := cfg.Memory.Validate(); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup := setupLogger(cfg.LogFile, parseLevel(cfg.LogLevel))
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	metrics := NewMetrics(cfg.MetricsNamespace)

	embedder, closeEmbedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		log.Fatalf("embedder init failed: %v", err)
	}
	defer closeEmbedder()

	var store memory.Store
	if cfg.Memory.LongTermEnabled {
		st, err := chromem.New(chromem.Config{
			Path:        cfg.Memory.LongTermPath,
			MaxMemories: cfg.Memory.MaxMemories,
			Dimensions:  embedder.Dimensions(),
			Logger:      logger,
		})
		if err != nil {
			log.Fatalf("store init failed: %v", err)
		}
		store = st
	}

	hub := events.NewHub()
	hub.Logger = logger
	hub.OnDrop = metrics.EventDrops.Inc

	sink := events.Multi(
		events.NewLogSink(logger),
		metrics.Sink(),
		events.NewDedupe(hub, 0),
	)

	opts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithSink(sink),
	}
	if cfg.AnthropicKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicKey))
		summ, err := claude.New(&client, claude.WithLogger(logger))
		if err != nil {
			log.Fatalf("summarizer init failed: %v", err)
		}
		opts = append(opts, memory.WithSummarizer(summ))
	}

	manager, err := memory.NewManager(&cfg.Memory, embedder, store, opts...)
	if err != nil {
		log.Fatalf("manager init failed: %v", err)
	}

	if cfg.SystemPrompt != "" {
		if _, err := manager.AddTurn(context.Background(), core.RoleSystem, cfg.SystemPrompt); err != nil {
			log.Fatalf("system prompt rejected: %v", err)
		}
	}

	srv := NewServer(manager, hub, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("[MEMORYD] listening",
			"addr", cfg.BindAddr,
			"session_id", manager.SessionID(),
			"embedder", cfg.Embedder,
			"long_term", cfg.Memory.LongTermEnabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("[MEMORYD] shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[MEMORYD] graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	// Close flushes unpersisted turns before the store goes away.
	if err := manager.Close(); err != nil {
		logger.Warn("[MEMORYD] manager close failed", "error", err)
	}
	_ = hub.Close()

	logger.Info("[MEMORYD] shutdown complete")
}

func buildEmbedder(cfg daemonConfig, logger *slog.Logger) (memory.Embedder, func(), error) {
	var base memory.Embedder
	switch cfg.Embedder {
	case "mock":
		base = mock.NewWithDimensions(cfg.Memory.EmbeddingDim)
	case "ollama":
		emb, err := ollama.New(ollama.Config{
			Model:      cfg.OllamaModel,
			ServerURL:  cfg.OllamaURL,
			Dimensions: cfg.Memory.EmbeddingDim,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		base = emb
	default:
		return nil, nil, fmt.Errorf("unknown MEMORYD_EMBEDDER %q (expected mock|ollama)", cfg.Embedder)
	}

	if !cfg.EmbedCache {
		return base, func() {}, nil
	}
	cachedEmb, err := cached.New(base, cached.Config{})
	if err != nil {
		return nil, nil, err
	}
	return cachedEmb, cachedEmb.Close, nil
}

// setupLogger builds a text handler on stdout, fanned out to a JSON
// file when logFile is set. Falls back to stdout-only if the file
// cannot be opened.
func setupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if logFile == "" {
		return slog.New(stdoutHandler), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		return slog.New(stdoutHandler), func() error { return nil }
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stdoutHandler, fileHandler)), file.Close
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
