package main

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/coda-voice/coda-go-sdk/memory"
)

// clearEnv blanks every variable loadConfig reads, so tests see the
// documented defaults regardless of the ambient environment.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"MEMORYD_BIND_ADDR", "MEMORYD_METRICS_NAMESPACE", "MEMORYD_LOG_FILE",
		"MEMORYD_LOG_LEVEL", "MEMORYD_EMBEDDER", "MEMORYD_OLLAMA_MODEL",
		"MEMORYD_OLLAMA_URL", "MEMORYD_SYSTEM_PROMPT", "MEMORYD_SHUTDOWN_TIMEOUT",
		"MEMORYD_EMBED_CACHE", "MEMORYD_DATA_PATH", "MEMORYD_LONG_TERM",
		"MEMORYD_AUTO_PERSIST", "MEMORYD_MAX_TURNS", "MEMORYD_MAX_TOKENS",
		"MEMORYD_EMBEDDING_DIM", "MEMORYD_MAX_MEMORIES", "MEMORYD_PERSIST_INTERVAL",
		"ANTHROPIC_API_KEY",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.MetricsNamespace != "memoryd" {
		t.Errorf("MetricsNamespace = %q", cfg.MetricsNamespace)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Embedder != "mock" {
		t.Errorf("Embedder = %q", cfg.Embedder)
	}
	if cfg.OllamaModel != "nomic-embed-text" {
		t.Errorf("OllamaModel = %q", cfg.OllamaModel)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if !cfg.EmbedCache {
		t.Error("EmbedCache = false, want true")
	}
	if cfg.AnthropicKey != "" {
		t.Errorf("AnthropicKey = %q, want empty", cfg.AnthropicKey)
	}
	if want := *memory.DefaultConfig(); !reflect.DeepEqual(cfg.Memory, want) {
		t.Errorf("Memory = %+v, want defaults %+v", cfg.Memory, want)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMORYD_BIND_ADDR", ":9090")
	t.Setenv("MEMORYD_LOG_LEVEL", "debug")
	t.Setenv("MEMORYD_EMBEDDER", "MOCK")
	t.Setenv("MEMORYD_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("MEMORYD_EMBED_CACHE", "off")
	t.Setenv("MEMORYD_DATA_PATH", "/var/lib/memoryd/records")
	t.Setenv("MEMORYD_MAX_TURNS", "40")
	t.Setenv("MEMORYD_MAX_TOKENS", "1600")
	t.Setenv("MEMORYD_PERSIST_INTERVAL", "3")
	t.Setenv("MEMORYD_AUTO_PERSIST", "no")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Embedder != "mock" {
		t.Errorf("Embedder = %q, want lowercased", cfg.Embedder)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.EmbedCache {
		t.Error("EmbedCache = true, want off")
	}
	if cfg.Memory.LongTermPath != "/var/lib/memoryd/records" {
		t.Errorf("LongTermPath = %q", cfg.Memory.LongTermPath)
	}
	if cfg.Memory.MaxTurns != 40 || cfg.Memory.MaxTokens != 1600 {
		t.Errorf("Memory limits = %d turns, %d tokens", cfg.Memory.MaxTurns, cfg.Memory.MaxTokens)
	}
	if cfg.Memory.PersistInterval != 3 {
		t.Errorf("PersistInterval = %d", cfg.Memory.PersistInterval)
	}
	if cfg.Memory.AutoPersist {
		t.Error("AutoPersist = true, want off")
	}
}

func TestLoadConfigOllamaWidth(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMORYD_EMBEDDER", "ollama")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Memory.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("EmbeddingModel = %q", cfg.Memory.EmbeddingModel)
	}
	if cfg.Memory.EmbeddingDim != 768 {
		t.Errorf("EmbeddingDim = %d, want the ollama default 768", cfg.Memory.EmbeddingDim)
	}

	// An explicit width still wins over the ollama default.
	t.Setenv("MEMORYD_EMBEDDING_DIM", "1024")
	cfg, err = loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Memory.EmbeddingDim != 1024 {
		t.Errorf("EmbeddingDim = %d, want the explicit 1024", cfg.Memory.EmbeddingDim)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable int", "MEMORYD_MAX_TURNS", "many"},
		{"unparseable duration", "MEMORYD_SHUTDOWN_TIMEOUT", "soon"},
		{"unparseable bool", "MEMORYD_EMBED_CACHE", "maybe"},
		{"zero turns", "MEMORYD_MAX_TURNS", "0"},
		{"zero interval", "MEMORYD_PERSIST_INTERVAL", "0"},
		{"negative tokens", "MEMORYD_MAX_TOKENS", "-100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("Expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
