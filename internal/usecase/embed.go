package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"ragingest/internal/backoff"
	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// EmbedOptions controls batching of embedding calls.
type EmbedOptions struct {
	BatchSize   int
	Concurrency int
	Retry       backoff.Policy
}

// EmbedStage turns chunks into records, calling the embedder only for
// chunks whose content fingerprint the index does not hold yet.
type EmbedStage struct {
	embedder port.Embedder
	store    port.VectorStore
	opts     EmbedOptions
	logger   *slog.Logger
}

func NewEmbedStage(embedder port.Embedder, store port.VectorStore, opts EmbedOptions) *EmbedStage {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = backoff.DefaultPolicy()
	}
	return &EmbedStage{
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   slog.Default().With("component", "embedder"),
	}
}

// EmbedResult splits the input chunks by what happened to them.
type EmbedResult struct {
	// New holds records embedded by this call, ready for upsert.
	New []domain.ChunkRecord
	// Existing holds records whose fingerprint is already indexed. Their
	// Embedding is nil.
	Existing []domain.ChunkRecord
	// Texts is the number of texts sent to the embedder.
	Texts int
}

// BatchError reports embedding batches that failed after retries. Records
// from the other batches are still returned.
type BatchError struct {
	Failed []int
	Total  int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d embedding batches failed (batches %v): %v", len(e.Failed), e.Total, e.Failed, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

type pendingText struct {
	fp   domain.Fingerprint
	text string
}

// EmbedNew embeds the chunks that are new or changed. Fingerprints are looked
// up per source path. Identical chunks within one call share a single
// embedding request.
func (s *EmbedStage) EmbedNew(ctx context.Context, chunks []domain.Chunk) (*EmbedResult, error) {
	result := &EmbedResult{}
	if len(chunks) == 0 {
		return result, nil
	}

	existing := make(map[string]map[domain.Fingerprint]struct{})
	var pending []domain.ChunkRecord
	for _, chunk := range chunks {
		fps, ok := existing[chunk.SourcePath]
		if !ok {
			var err error
			fps, err = s.store.ExistingFingerprints(ctx, chunk.SourcePath)
			if err != nil {
				return nil, fmt.Errorf("failed to read existing fingerprints: %w", err)
			}
			existing[chunk.SourcePath] = fps
		}

		rec := domain.NewChunkRecord(chunk)
		if _, ok := fps[rec.ContentFingerprint]; ok {
			result.Existing = append(result.Existing, rec)
			continue
		}
		pending = append(pending, rec)
	}

	var texts []pendingText
	seen := make(map[domain.Fingerprint]struct{})
	for _, rec := range pending {
		if _, ok := seen[rec.ContentFingerprint]; ok {
			continue
		}
		seen[rec.ContentFingerprint] = struct{}{}
		texts = append(texts, pendingText{fp: rec.ContentFingerprint, text: rec.Content})
	}
	result.Texts = len(texts)

	if len(texts) == 0 {
		return result, nil
	}

	vectors, batchErr := s.embedBatches(ctx, texts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, rec := range pending {
		vec, ok := vectors[rec.ContentFingerprint]
		if !ok {
			continue
		}
		rec.Embedding = vec
		result.New = append(result.New, rec)
	}

	s.logger.Debug("embedded chunks",
		"chunks", len(chunks), "existing", len(result.Existing), "texts", len(texts), "records", len(result.New))

	if batchErr != nil {
		return result, batchErr
	}
	return result, nil
}

func (s *EmbedStage) embedBatches(ctx context.Context, texts []pendingText) (map[domain.Fingerprint][]float32, error) {
	var batches [][]pendingText
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))
		batches = append(batches, texts[start:end])
	}

	results := make([][][]float32, len(batches))
	errs := make([]error, len(batches))

	if s.opts.Concurrency > 1 && len(batches) > 1 {
		pool, err := ants.NewPool(min(s.opts.Concurrency, len(batches)))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding pool: %w", err)
		}
		defer pool.Release()

		var wg sync.WaitGroup
		for i := range batches {
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				results[i], errs[i] = s.embedBatch(ctx, batches[i])
			}); err != nil {
				wg.Done()
				errs[i] = err
			}
		}
		wg.Wait()
	} else {
		for i, batch := range batches {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				continue
			}
			results[i], errs[i] = s.embedBatch(ctx, batch)
		}
	}

	vectors := make(map[domain.Fingerprint][]float32, len(texts))
	var failed []int
	for i, batch := range batches {
		if errs[i] != nil {
			failed = append(failed, i)
			s.logger.Warn("embedding batch failed",
				"batch", i, "size", len(batch), "class", domain.ErrorClass(errs[i]), "err", errs[i])
			continue
		}
		for j, item := range batch {
			vectors[item.fp] = results[i][j]
		}
	}

	if len(failed) == 0 {
		return vectors, nil
	}
	return vectors, &BatchError{
		Failed: failed,
		Total:  len(batches),
		Err:    errs[failed[0]],
	}
}

func (s *EmbedStage) embedBatch(ctx context.Context, batch []pendingText) ([][]float32, error) {
	inputs := make([]string, len(batch))
	for i, item := range batch {
		inputs[i] = item.text
	}

	var vectors [][]float32
	err := backoff.Retry(ctx, s.opts.Retry, func(ctx context.Context) error {
		out, err := s.embedder.Embed(ctx, inputs)
		if err != nil {
			return err
		}
		if len(out) != len(inputs) {
			return domain.Transient(fmt.Errorf("embedder returned %d vectors for %d texts", len(out), len(inputs)))
		}
		vectors = out
		return nil
	})
	return vectors, err
}
