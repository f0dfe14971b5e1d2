package memory

import (
	"fmt"
)

// Config holds the tunables for the memory layer.
//
// All numeric fields are optional: zero values are filled from
// DefaultConfig before validation. Booleans are taken as given, so a
// literal &Config{} runs with long-term memory and auto-persist off.
type Config struct {
	// LongTermEnabled toggles the long-term tier. When false the
	// manager runs short-term only: persistence is a no-op, retrieval
	// returns nothing, and fact capture is rejected.
	LongTermEnabled bool

	// MaxTurns caps the short-term buffer. Oldest non-pinned turns are
	// evicted first. Default: 20.
	MaxTurns int

	// MaxTokens is the default budget for context assembly. Default: 800.
	MaxTokens int

	// LongTermPath is the journal directory for persisted records.
	// Default: "data/memory/long_term".
	LongTermPath string

	// EmbeddingModel names the embedding model. The manager treats it
	// as informational; embedder constructors consume it.
	// Default: "all-MiniLM-L6-v2".
	EmbeddingModel string

	// EmbeddingDim is the expected embedding width. Default: 384.
	EmbeddingDim int

	// MaxMemories caps long-term records. When the cap is reached the
	// oldest lowest-importance record is evicted to make room.
	// Default: 1000.
	MaxMemories int

	// AutoPersist persists conversation chunks automatically every
	// PersistInterval assistant turns. Default: true via DefaultConfig.
	AutoPersist bool

	// PersistInterval is the assistant-turn interval for auto-persist.
	// Default: 5.
	PersistInterval int

	// ChunkSize is the chunk window in words. Default: 200.
	ChunkSize int

	// ChunkOverlap is the word overlap between consecutive chunks.
	// Default: 50.
	ChunkOverlap int

	// MinChunkLength drops a trailing chunk shorter than this many
	// words unless it is the only chunk. Default: 50.
	MinChunkLength int
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	return &Config{
		LongTermEnabled: true,
		MaxTurns:        20,
		MaxTokens:       800,
		LongTermPath:    "data/memory/long_term",
		EmbeddingModel:  "all-MiniLM-L6-v2",
		EmbeddingDim:    384,
		MaxMemories:     1000,
		AutoPersist:     true,
		PersistInterval: 5,
		ChunkSize:       200,
		ChunkOverlap:    50,
		MinChunkLength:  50,
	}
}

// withDefaults returns a copy of c with zero-valued fields filled from
// DefaultConfig. Booleans are left as given.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *c
	if out.MaxTurns == 0 {
		out.MaxTurns = def.MaxTurns
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = def.MaxTokens
	}
	if out.LongTermPath == "" {
		out.LongTermPath = def.LongTermPath
	}
	if out.EmbeddingModel == "" {
		out.EmbeddingModel = def.EmbeddingModel
	}
	if out.EmbeddingDim == 0 {
		out.EmbeddingDim = def.EmbeddingDim
	}
	if out.MaxMemories == 0 {
		out.MaxMemories = def.MaxMemories
	}
	if out.PersistInterval == 0 {
		out.PersistInterval = def.PersistInterval
	}
	if out.ChunkSize == 0 {
		out.ChunkSize = def.ChunkSize
	}
	if out.ChunkOverlap == 0 {
		out.ChunkOverlap = def.ChunkOverlap
	}
	if out.MinChunkLength == 0 {
		out.MinChunkLength = def.MinChunkLength
	}
	return &out
}

// Validate reports the first configuration problem found. NewManager
// validates after filling defaults, so a partially filled Config only
// fails on values that are set and wrong.
func (c *Config) Validate() error {
	switch {
	case c.MaxTurns < 1:
		return fmt.Errorf("%w: MaxTurns must be at least 1, got %d", ErrInvalidInput, c.MaxTurns)
	case c.MaxTokens < 1:
		return fmt.Errorf("%w: MaxTokens must be at least 1, got %d", ErrInvalidInput, c.MaxTokens)
	case c.EmbeddingDim < 1:
		return fmt.Errorf("%w: EmbeddingDim must be at least 1, got %d", ErrInvalidInput, c.EmbeddingDim)
	case c.MaxMemories < 1:
		return fmt.Errorf("%w: MaxMemories must be at least 1, got %d", ErrInvalidInput, c.MaxMemories)
	case c.PersistInterval < 1:
		return fmt.Errorf("%w: PersistInterval must be at least 1, got %d", ErrInvalidInput, c.PersistInterval)
	case c.ChunkSize < 1:
		return fmt.Errorf("%w: ChunkSize must be at least 1, got %d", ErrInvalidInput, c.ChunkSize)
	case c.ChunkOverlap < 0:
		return fmt.Errorf("%w: ChunkOverlap must not be negative, got %d", ErrInvalidInput, c.ChunkOverlap)
	case c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("%w: ChunkOverlap %d must be smaller than ChunkSize %d", ErrInvalidInput, c.ChunkOverlap, c.ChunkSize)
	case c.MinChunkLength < 1:
		return fmt.Errorf("%w: MinChunkLength must be at least 1, got %d", ErrInvalidInput, c.MinChunkLength)
	case c.LongTermEnabled && c.LongTermPath == "":
		return fmt.Errorf("%w: LongTermPath required when long-term memory is enabled", ErrInvalidInput)
	}
	return nil
}
