// Package mock provides a deterministic embedder for tests and
// offline development. No model, no network, identical output for
// identical input.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder generates deterministic embeddings from text hashes.
//
// Each word contributes a pseudo-random unit direction derived from
// its hash, plus a small whole-text component, and the sum is
// normalized. Texts sharing words land measurably closer than
// unrelated texts, which gives retrieval ranking real signal to chew
// on without a model.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder matching the all-MiniLM-L6-v2 width.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// NewWithDimensions creates a mock embedder with a custom width.
func NewWithDimensions(d int) *Embedder {
	return &Embedder{dimensions: d}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := make([]float32, m.dimensions)

	lowered := strings.ToLower(text)
	for _, w := range strings.Fields(lowered) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		mixInto(sum, hashOf(w), 1.0)
	}

	// The whole-text component keeps distinct texts apart even when
	// they share every word.
	mixInto(sum, hashOf(lowered), 0.25)

	return normalize(sum), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func hashOf(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// mixInto adds a pseudo-random unit direction for seed, scaled by
// weight. A simple LCG stretches the seed across the vector.
func mixInto(sum []float32, seed uint64, weight float32) {
	vec := make([]float32, len(sum))
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	vec = normalize(vec)
	for i := range sum {
		sum[i] += weight * vec[i]
	}
}

// normalize converts a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
