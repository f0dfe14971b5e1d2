package mock_test

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/coda-voice/coda-go-sdk/memory/embedder/mock"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockDeterministic(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()

	first, err := emb.Embed(ctx, "My dog is named Max")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	second, err := emb.Embed(ctx, "My dog is named Max")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Identical input produced different embeddings")
	}
}

func TestMockDimensions(t *testing.T) {
	ctx := context.Background()

	if got := mock.New().Dimensions(); got != 384 {
		t.Errorf("Default dimensions = %d, want 384", got)
	}

	emb := mock.NewWithDimensions(16)
	if got := emb.Dimensions(); got != 16 {
		t.Errorf("Dimensions = %d, want 16", got)
	}
	vec, err := emb.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 16 {
		t.Errorf("Embedding length = %d, want 16", len(vec))
	}
}

func TestMockUnitNorm(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()

	for _, text := range []string{"hello", "My dog is named Max", ""} {
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed(%q) failed: %v", text, err)
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if math.Abs(norm-1) > 1e-3 {
			t.Errorf("Embed(%q) norm = %.4f, want 1", text, norm)
		}
	}
}

func TestMockLexicalSimilarity(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()

	dog, err := emb.Embed(ctx, "My dog is named Max")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	related, err := emb.Embed(ctx, "tell me about my dog")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	unrelated, err := emb.Embed(ctx, "the weather is sunny today")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	simRelated := cosine(dog, related)
	simUnrelated := cosine(dog, unrelated)
	if simRelated <= simUnrelated {
		t.Errorf("Shared words gave no signal: related %.3f <= unrelated %.3f",
			simRelated, simUnrelated)
	}
}

func TestMockWordOrderDistinguished(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()

	ab, err := emb.Embed(ctx, "dog park")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	ba, err := emb.Embed(ctx, "park dog")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	// Same words, different text: close but not identical.
	if reflect.DeepEqual(ab, ba) {
		t.Error("Reordered text produced an identical embedding")
	}
	if sim := cosine(ab, ba); sim < 0.9 {
		t.Errorf("Same-word texts score %.3f, want high similarity", sim)
	}
}

func TestMockPunctuationAndCaseFolded(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()

	plain, err := emb.Embed(ctx, "dog")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	shouted, err := emb.Embed(ctx, "Dog!")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if sim := cosine(plain, shouted); sim < 0.9 {
		t.Errorf("Case and punctuation variants score %.3f, want high similarity", sim)
	}
}
