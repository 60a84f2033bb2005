package refiner

import (
	"context"

	"ragingest/internal/domain"
)

// Noop leaves chunks untouched and extracts no metadata.
type Noop struct{}

func (Noop) Refine(_ context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	return chunk, nil
}

func (Noop) ExtractMetadata(context.Context, domain.Chunk) (domain.ChunkMetadata, error) {
	return domain.ChunkMetadata{}, nil
}
