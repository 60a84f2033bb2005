package port

import (
	"context"

	"ragingest/internal/domain"
)

// Generator is a text-generation model.
type Generator interface {
	// Generate returns the model's completion for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// Refiner cleans chunks and extracts their metadata.
type Refiner interface {
	Refine(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error)
	ExtractMetadata(ctx context.Context, chunk domain.Chunk) (domain.ChunkMetadata, error)
}
