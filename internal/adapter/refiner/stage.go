package refiner

import (
	"context"
	"log/slog"

	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// Stage applies a refiner to every chunk of a document. Refinement and
// metadata extraction are toggled independently; a disabled step passes
// chunks through unchanged.
type Stage struct {
	refiner          port.Refiner
	enableRefinement bool
	enableMetadata   bool
	logger           *slog.Logger
}

func NewStage(refiner port.Refiner, enableRefinement, enableMetadata bool) *Stage {
	if refiner == nil {
		refiner = Noop{}
	}
	return &Stage{
		refiner:          refiner,
		enableRefinement: enableRefinement,
		enableMetadata:   enableMetadata,
		logger:           slog.Default().With("component", "refine-stage"),
	}
}

// Process returns the refined chunks in their original order. The only error
// it returns is context cancellation.
func (s *Stage) Process(ctx context.Context, chunks []domain.Chunk) ([]domain.Chunk, error) {
	if !s.enableRefinement && !s.enableMetadata {
		return chunks, nil
	}

	out := make([]domain.Chunk, len(chunks))
	for i, chunk := range chunks {
		if s.enableRefinement {
			refined, err := s.refiner.Refine(ctx, chunk)
			if err != nil {
				return nil, err
			}
			chunk = refined
		}

		if s.enableMetadata {
			meta, err := s.refiner.ExtractMetadata(ctx, chunk)
			if err != nil {
				return nil, err
			}
			if meta.Title != "" {
				chunk.Title = meta.Title
			}
			if meta.Summary != "" {
				chunk.Summary = meta.Summary
			}
		}

		out[i] = chunk
	}

	s.logger.Debug("refined chunks", "count", len(out))
	return out, nil
}
