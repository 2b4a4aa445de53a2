package domain

import "context"

// EmbeddingProvider converts text into vectors for the code index's
// semantic search.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector dimensionality.
	Dimensions() int
	// Name identifies the backend (e.g. "ollama").
	Name() string
}
