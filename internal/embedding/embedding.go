// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/wanyview/kaidison-system/internal/keyword"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
	Name() string
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero-norm vectors score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsZero reports whether every component of v is zero.
func IsZero(v Vector) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// --- Hash fallback ---

const (
	DefaultHashDims      = 100
	DefaultHashMaxTokens = 100
)

// HashEmbedder is the deterministic fallback used when no embedding model is
// configured. Each distinct Latin word adds 1 to the slot picked by its hash,
// so unrelated words may collide in the same slot.
type HashEmbedder struct {
	dims      int
	maxTokens int
}

// NewHashEmbedder creates a fallback embedder. Non-positive arguments select
// the defaults.
func NewHashEmbedder(dims, maxTokens int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	if maxTokens <= 0 {
		maxTokens = DefaultHashMaxTokens
	}
	return &HashEmbedder{dims: dims, maxTokens: maxTokens}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, e.dims)
	words := keyword.LatinWords(text)
	if len(words) > e.maxTokens {
		words = words[:e.maxTokens]
	}
	for _, w := range words {
		vec[xxhash.Sum64String(w)%uint64(e.dims)]++
	}
	return vec, nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

func (e *HashEmbedder) Name() string { return ProviderHash }
