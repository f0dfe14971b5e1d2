package memory

import (
	"context"

	"github.com/coda-voice/coda-go-sdk/core"
)

// Store is the long-term storage backend interface.
// Implementations: chromem.Store (embedded, local), with room for a
// pgvector-backed store in production deployments.
//
// Records handed to Add must have their embedding set; the Manager
// embeds before storing. Add is write-through: when it returns nil the
// record is durable and immediately searchable.
type Store interface {
	// Add persists a record. Write-through: durable on return.
	Add(ctx context.Context, rec *MemoryRecord) error

	// Search ranks records against the query embedding by cosine
	// similarity descending; ties break by importance descending, then
	// creation time descending. No match is an empty slice, not an
	// error.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)

	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*MemoryRecord, error)

	// All returns every record in insertion order.
	All(ctx context.Context) ([]*MemoryRecord, error)

	// Topics returns the union of all record topics, sorted.
	Topics(ctx context.Context) ([]string, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases resources. Further calls return ErrStoreClosed.
	Close() error
}

// SearchOptions narrows and caps a Store search.
type SearchOptions struct {
	// Limit caps the result count. Non-positive means no cap.
	Limit int

	// MinSimilarity excludes results scoring below the threshold.
	MinSimilarity float32

	// Filter matches record metadata exactly. Supported keys:
	// "source_type", "source", and "topic" (matches any of a record's
	// topics).
	Filter map[string]string
}

// SearchResult pairs a record with its similarity to the query.
type SearchResult struct {
	Record     *MemoryRecord `json:"record"`
	Similarity float32       `json:"similarity"`
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing, offline), ollama.Embedder
// (local model server), onnx.Embedder (in-process, build tag "onnx"),
// cached.Embedder (read-through cache decorator).
//
// Embedder is an implementation detail of Manager; callers of the
// memory layer never interact with it directly.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Summarizer condenses a conversation into a short summary suitable
// for long-term storage. Implementations: claude.Summarizer.
type Summarizer interface {
	Summarize(ctx context.Context, turns []core.Turn) (string, error)
}
