// Package embeddings defines the embedding provider abstraction used by the
// document knowledge base. Implementations live in subpackages (openai, ollama).
package embeddings

import "context"

// Provider computes dense vector embeddings for text.
//
// Implementations must be safe for concurrent use. The vector length returned
// by Embed must match Dimensions for the lifetime of the provider, since the
// document store's vector column is sized once at migration time.
type Provider interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length this provider produces, or 0 when
	// it cannot be determined without a live request.
	Dimensions() int

	// ModelID returns the underlying embedding model name.
	ModelID() string
}
