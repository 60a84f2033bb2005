package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragingest/config"
	"ragingest/internal/adapter/analyzer"
	"ragingest/internal/adapter/chunker"
	"ragingest/internal/adapter/embedding"
	"ragingest/internal/adapter/fs"
	"ragingest/internal/adapter/llm"
	"ragingest/internal/adapter/pgvector"
	"ragingest/internal/adapter/refiner"
	"ragingest/internal/adapter/sqlite"
	"ragingest/internal/adapter/store"
	"ragingest/internal/backoff"
	"ragingest/internal/domain"
	"ragingest/internal/port"
	"ragingest/internal/usecase"
)

// backends holds the opened stores for one command. The bolt file is always
// opened because it carries the schema version and config hash.
type backends struct {
	bolt     *store.BoltStore
	ledger   port.Ledger
	vectors  port.VectorStore
	embedder port.Embedder
	closers  []func() error
}

func openBackends(ctx context.Context, cfg *config.Config, dir string) (*backends, error) {
	if err := config.EnsureRAGDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create .rag directory: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	boltPath := cfg.Index.Path
	if boltPath == "" {
		boltPath = config.IndexDBPath(dir)
	}
	st, err := store.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	b := &backends{bolt: st, embedder: embedder, closers: []func() error{st.Close}}

	switch cfg.Ledger.Backend {
	case "sqlite":
		path := cfg.Ledger.Path
		if path == "" {
			path = config.LedgerDBPath(dir)
		}
		l, err := sqlite.Open(path)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		b.ledger = l
		b.closers = append(b.closers, l.Close)
	default:
		l, err := store.NewBoltLedger(st.DB())
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		b.ledger = l
	}

	switch cfg.Index.Backend {
	case "pgvector":
		pg, err := pgvector.New(ctx, pgvector.Config{
			ConnString: cfg.Index.PostgresURL,
			TableName:  cfg.Index.Table,
			Dimension:  embedder.Dimension(),
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to pgvector: %w", err)
		}
		b.vectors = pg
		b.closers = append(b.closers, func() error { pg.Close(); return nil })
	default:
		vs, err := store.NewBoltVectorStore(st.DB())
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		b.vectors = vs
	}

	return b, nil
}

// Close releases the backends in reverse opening order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reset empties the index and the ledger.
func (b *backends) reset(ctx context.Context) error {
	if err := b.vectors.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	if err := b.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	return nil
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	var (
		embedder port.Embedder
		err      error
	)
	e := cfg.Embedding
	switch e.Provider {
	case "openai":
		embedder, err = embedding.NewOpenAIEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension)
	case "ollama":
		embedder, err = embedding.NewOllamaEmbedder(e.Model, e.BaseURL, e.Dimension)
	case "mock":
		embedder = embedding.NewMockEmbedder(e.Dimension)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %s", domain.ErrInvalidConfig, e.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

func newTokenCounter(cfg *config.Config) (port.TokenCounter, error) {
	if cfg.Chunking.Tokenizer == "bpe" {
		return analyzer.NewBPECounter(cfg.Chunking.Encoding)
	}
	return analyzer.NewTokenizer(), nil
}

func retryPolicy(cfg *config.Config) backoff.Policy {
	return backoff.Policy{
		MaxAttempts: cfg.Retry.MaxRetries,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
	}
}

// newRefineStage returns nil when neither refinement nor metadata extraction
// can run.
func newRefineStage(cfg *config.Config, noRefine bool) (*refiner.Stage, error) {
	if noRefine || cfg.LLM.Provider == "none" || cfg.LLM.Provider == "" {
		return nil, nil
	}
	if !cfg.Ingest.EnableRefinement && !cfg.Ingest.EnableMetadata {
		return nil, nil
	}

	gen, err := llm.New(llm.Config{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		APIKeyEnv:         cfg.LLM.APIKeyEnv,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	strategy := refiner.WithFallback(refiner.NewLLMRefiner(gen), retryPolicy(cfg))
	return refiner.NewStage(strategy, cfg.Ingest.EnableRefinement, cfg.Ingest.EnableMetadata), nil
}

type pipelineFlags struct {
	noRefine bool
	workers  int
	prune    bool
}

func newPipeline(cfg *config.Config, b *backends, flags pipelineFlags) (*usecase.Pipeline, error) {
	counter, err := newTokenCounter(cfg)
	if err != nil {
		return nil, err
	}

	stage, err := newRefineStage(cfg, flags.noRefine)
	if err != nil {
		return nil, err
	}
	if stage == nil {
		slog.Debug("refinement disabled")
	}

	workers := cfg.Ingest.Workers
	if flags.workers > 0 {
		workers = flags.workers
	}

	return usecase.NewPipeline(usecase.PipelineDeps{
		Ledger:  b.ledger,
		Chunker: chunker.NewRecursiveChunker(counter),
		Refine:  stage,
		Embed: usecase.NewEmbedStage(b.embedder, b.vectors, usecase.EmbedOptions{
			BatchSize:   cfg.Embedding.BatchSize,
			Concurrency: cfg.Embedding.Concurrency,
			Retry:       retryPolicy(cfg),
		}),
		Store:  b.vectors,
		Walker: fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes),
	}, usecase.PipelineOptions{
		Chunking: domain.ChunkOptions{
			Size:       cfg.Chunking.ChunkSize,
			Overlap:    cfg.Chunking.ChunkOverlap,
			Separators: cfg.Chunking.Separators,
		},
		Workers:    workers,
		PruneStale: cfg.Index.PruneStale || flags.prune,
	}), nil
}
