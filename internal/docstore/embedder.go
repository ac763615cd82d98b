package docstore

import "context"

// Embedder is the interface for converting text into dense vector embeddings.
// Stores own their embeddings internally: documents are embedded at the Add
// boundary and queries at the Search boundary, and vectors are never exposed
// to callers. Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
