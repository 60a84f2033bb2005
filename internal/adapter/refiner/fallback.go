package refiner

import (
	"context"
	"log/slog"

	"ragingest/internal/backoff"
	"ragingest/internal/domain"
	"ragingest/internal/port"
)

type fallbackRefiner struct {
	strategy port.Refiner
	policy   backoff.Policy
	logger   *slog.Logger
}

// WithFallback wraps strategy so that transient failures are retried under
// policy and exhausted or permanent failures yield the unmodified chunk and
// empty metadata. Only context cancellation is returned as an error.
func WithFallback(strategy port.Refiner, policy backoff.Policy) port.Refiner {
	return &fallbackRefiner{
		strategy: strategy,
		policy:   policy,
		logger:   slog.Default().With("component", "refiner"),
	}
}

func (f *fallbackRefiner) Refine(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	var refined domain.Chunk
	err := backoff.Retry(ctx, f.policy, func(ctx context.Context) error {
		out, err := f.strategy.Refine(ctx, chunk)
		if err != nil {
			return err
		}
		refined = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return chunk, ctx.Err()
		}
		f.logger.Warn("refinement failed, keeping original chunk",
			"source", chunk.SourcePath, "index", chunk.ChunkIndex, "class", domain.ErrorClass(err), "err", err)
		return chunk, nil
	}
	return refined, nil
}

func (f *fallbackRefiner) ExtractMetadata(ctx context.Context, chunk domain.Chunk) (domain.ChunkMetadata, error) {
	var meta domain.ChunkMetadata
	err := backoff.Retry(ctx, f.policy, func(ctx context.Context) error {
		out, err := f.strategy.ExtractMetadata(ctx, chunk)
		if err != nil {
			return err
		}
		meta = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.ChunkMetadata{}, ctx.Err()
		}
		f.logger.Warn("metadata extraction failed, leaving metadata empty",
			"source", chunk.SourcePath, "index", chunk.ChunkIndex, "class", domain.ErrorClass(err), "err", err)
		return domain.ChunkMetadata{}, nil
	}
	return meta, nil
}
