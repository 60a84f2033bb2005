package usecase

import (
	"context"
	"fmt"

	"ragingest/internal/backoff"
	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// Index pairs a vector store with the embedder used to fill it, so queries
// are embedded the same way as the stored chunks.
type Index struct {
	embedder port.Embedder
	store    port.VectorStore
	policy   backoff.Policy
}

func NewIndex(embedder port.Embedder, store port.VectorStore, policy backoff.Policy) *Index {
	if policy.MaxAttempts < 1 {
		policy = backoff.DefaultPolicy()
	}
	return &Index{embedder: embedder, store: store, policy: policy}
}

// Upsert writes records keyed by id.
func (i *Index) Upsert(ctx context.Context, records []domain.ChunkRecord) error {
	return i.store.Upsert(ctx, records)
}

// ExistingFingerprints returns the content fingerprints stored for
// sourcePath, or for the whole index when sourcePath is empty.
func (i *Index) ExistingFingerprints(ctx context.Context, sourcePath string) (map[domain.Fingerprint]struct{}, error) {
	return i.store.ExistingFingerprints(ctx, sourcePath)
}

// SimilaritySearch embeds query and returns the topK most similar records.
// A topK larger than the index returns every record.
func (i *Index) SimilaritySearch(ctx context.Context, query string, topK int) ([]domain.ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}

	var vectors [][]float32
	err := backoff.Retry(ctx, i.policy, func(ctx context.Context) error {
		out, err := i.embedder.Embed(ctx, []string{query})
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	return i.store.Search(ctx, vectors[0], topK)
}

// Count returns the number of stored records.
func (i *Index) Count(ctx context.Context) (int, error) {
	return i.store.Count(ctx)
}
