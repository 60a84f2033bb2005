package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragingest/internal/adapter/analyzer"
	"ragingest/internal/adapter/chunker"
	"ragingest/internal/adapter/embedding"
	"ragingest/internal/adapter/fs"
	"ragingest/internal/adapter/memstore"
	"ragingest/internal/adapter/refiner"
	"ragingest/internal/backoff"
	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// countingEmbedder records every text it is asked to embed and can be told
// to fail specific calls (1-based).
type countingEmbedder struct {
	inner port.Embedder

	mu    sync.Mutex
	calls int
	texts []string
	fail  map[int]error
}

func newCountingEmbedder(dimension int) *countingEmbedder {
	return &countingEmbedder{inner: embedding.NewMockEmbedder(dimension)}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	err := e.fail[call]
	if err == nil {
		e.texts = append(e.texts, texts...)
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, texts)
}

func (e *countingEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *countingEmbedder) ModelName() string { return "counting" }

func (e *countingEmbedder) embeddedTexts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.texts)
}

func (e *countingEmbedder) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = 0
	e.texts = nil
	e.fail = nil
}

// failingGenerator fails every call with a transient error.
type failingGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *failingGenerator) Generate(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return "", domain.Transient(context.DeadlineExceeded)
}

func (g *failingGenerator) ModelName() string { return "failing" }

func fastPolicy() backoff.Policy {
	return backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

type harness struct {
	ledger   *memstore.Ledger
	store    *memstore.VectorStore
	embedder *countingEmbedder
	chunker  *chunker.RecursiveChunker
	pipeline *Pipeline
}

type harnessConfig struct {
	deps      PipelineDeps
	pipeline  PipelineOptions
	embed     EmbedOptions
	dimension int
}

type harnessOption func(*harnessConfig)

func withChunking(size, overlap int) harnessOption {
	return func(c *harnessConfig) {
		c.pipeline.Chunking = domain.ChunkOptions{Size: size, Overlap: overlap}
	}
}

func withBatchSize(n int) harnessOption {
	return func(c *harnessConfig) { c.embed.BatchSize = n }
}

func withEmbedConcurrency(n int) harnessOption {
	return func(c *harnessConfig) { c.embed.Concurrency = n }
}

func withWorkers(n int) harnessOption {
	return func(c *harnessConfig) { c.pipeline.Workers = n }
}

func withPruneStale() harnessOption {
	return func(c *harnessConfig) { c.pipeline.PruneStale = true }
}

func withDimension(n int) harnessOption {
	return func(c *harnessConfig) { c.dimension = n }
}

func withRefiner(r port.Refiner) harnessOption {
	return func(c *harnessConfig) {
		c.deps.Refine = refiner.NewStage(r, true, true)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		ledger:  memstore.NewLedger(),
		store:   memstore.NewVectorStore(),
		chunker: chunker.NewRecursiveChunker(analyzer.NewTokenizer()),
	}

	cfg := harnessConfig{
		deps: PipelineDeps{
			Ledger:  h.ledger,
			Chunker: h.chunker,
			Store:   h.store,
			Walker:  fs.NewWalker(nil, nil),
		},
		pipeline:  PipelineOptions{Chunking: domain.ChunkOptions{Size: 60, Overlap: 0}},
		embed:     EmbedOptions{BatchSize: 100, Retry: fastPolicy()},
		dimension: 512,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.embedder = newCountingEmbedder(cfg.dimension)
	cfg.deps.Embed = NewEmbedStage(h.embedder, h.store, cfg.embed)
	h.pipeline = NewPipeline(cfg.deps, cfg.pipeline)
	return h
}

func (h *harness) index() *Index {
	return NewIndex(h.embedder, h.store, fastPolicy())
}

func (h *harness) storedIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, rec := range h.store.Records() {
		ids[rec.ID] = struct{}{}
	}
	return ids
}

// paragraphs builds blank-line separated paragraphs numbered [from, to) of
// 35 tokens each, so that a 60 token chunk holds exactly one of them.
func paragraphs(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, strings.TrimSpace(strings.Repeat(fmt.Sprintf("para%d ", i), 35)))
	}
	return strings.Join(parts, "\n\n")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
