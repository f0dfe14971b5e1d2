// Package ollama embeds text through a local Ollama server, using
// langchaingo's client and embedder plumbing. Suits deployments that
// already run Ollama for the conversational model and want the
// embedding model served the same way.
package ollama

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	lcollama "github.com/tmc/langchaingo/llms/ollama"

	"github.com/coda-voice/coda-go-sdk/memory"
)

// Config selects the model and server.
type Config struct {
	// Model is the Ollama embedding model, e.g. "nomic-embed-text".
	Model string

	// ServerURL overrides the default local Ollama address.
	ServerURL string

	// Dimensions is the expected vector width. Every returned
	// embedding is validated against it, so a model swap that changes
	// width fails loudly instead of corrupting the store.
	Dimensions int

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Embedder is the langchaingo-backed Ollama embedder.
type Embedder struct {
	cfg Config
	log *slog.Logger
	emb *embeddings.EmbedderImpl
}

// New creates an Embedder. The server is not contacted until the
// first Embed call.
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", memory.ErrInvalidInput)
	}
	if cfg.Dimensions < 1 {
		return nil, fmt.Errorf("%w: dimensions must be set", memory.ErrInvalidInput)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []lcollama.Option{lcollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, lcollama.WithServerURL(cfg.ServerURL))
	}
	llm, err := lcollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	cfg.Logger.Info("[OLLAMA] embedder ready", "model", cfg.Model, "dimensions", cfg.Dimensions)
	return &Embedder{cfg: cfg, log: cfg.Logger, emb: emb}, nil
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.emb.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(vec) != e.cfg.Dimensions {
		return nil, fmt.Errorf("model %q returned %d dimensions, expected %d",
			e.cfg.Model, len(vec), e.cfg.Dimensions)
	}
	return vec, nil
}

// Dimensions returns the configured embedding size.
func (e *Embedder) Dimensions() int {
	return e.cfg.Dimensions
}
