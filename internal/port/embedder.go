package port

import (
	"context"

	"ragingest/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore stores chunk records and ranks them by vector similarity.
type VectorStore interface {
	// Upsert writes records keyed by id, overwriting existing ids.
	Upsert(ctx context.Context, records []domain.ChunkRecord) error

	// Search returns the k records most similar to the query vector,
	// highest score first, ties in insertion order.
	Search(ctx context.Context, query []float32, k int) ([]domain.ScoredRecord, error)

	// ExistingFingerprints returns the content fingerprints stored for a
	// source path. An empty source path means the whole store.
	ExistingFingerprints(ctx context.Context, sourcePath string) (map[domain.Fingerprint]struct{}, error)

	// DeleteStale removes records of sourcePath whose content fingerprint
	// is not in keep.
	DeleteStale(ctx context.Context, sourcePath string, keep map[domain.Fingerprint]struct{}) (int, error)

	// Count returns the number of records in the store.
	Count(ctx context.Context) (int, error)

	// Clear removes every record.
	Clear(ctx context.Context) error
}
