// Package embedding provides cross-modal CLIP embeddings for item descriptions and photos.
package embedding

import "context"

// Embedder maps text and images into one shared vector space.
// EmbedImage takes encoded image bytes (JPEG, PNG, GIF or WebP).
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Dimensions() int
	Close() error
}
