package database

import (
	"context"
)

// EmbeddingReader provides read-only access to stored embeddings
type EmbeddingReader interface {
	// Get retrieves the embedding of one content hash, returns nil if not found
	Get(ctx context.Context, contentHash, model string) (*StoredEmbedding, error)
	// GetMany retrieves all known embeddings for the given hashes keyed by hash
	GetMany(ctx context.Context, contentHashes []string, model string) (map[string][]float32, error)
	// Count returns the number of embeddings stored for a model
	Count(ctx context.Context, model string) (int, error)
}

// EmbeddingWriter provides write access to stored embeddings
type EmbeddingWriter interface {
	// SaveBatch upserts embeddings keyed by (content hash, model)
	SaveBatch(ctx context.Context, embeddings []StoredEmbedding) error
}

// EmbeddingStore is the cross-album embedding cache.
type EmbeddingStore interface {
	EmbeddingReader
	EmbeddingWriter
}
