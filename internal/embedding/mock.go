package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/reunite/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and for running without model files.
// The same text or the same image bytes always get the same unit-length vector.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedText returns a deterministic embedding based on the normalized text hash.
func (e *MockEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return e.vector(HashString(utils.NormalizeText(text))), nil
}

// EmbedImage returns a deterministic embedding based on a hash of the bytes.
func (e *MockEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return e.vector(int(h.Sum32())), nil
}

func (e *MockEmbedder) vector(h int) []float32 {
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
