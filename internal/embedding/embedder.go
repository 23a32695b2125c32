// Package embedding provides text embedding backends and a content-addressed cache.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations return vectors
// of exactly Dimensions() entries and the same vector for the same text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Named is implemented by embedders that report their model name. The name is
// recorded in the manifest so a model change forces a rebuild.
type Named interface {
	ModelName() string
}

// ModelName returns e's model name, or "unknown".
func ModelName(e Embedder) string {
	if n, ok := e.(Named); ok {
		return n.ModelName()
	}
	return "unknown"
}
