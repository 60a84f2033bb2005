package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"ragingest/internal/adapter/loader"
	"ragingest/internal/adapter/refiner"
	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// Outcome is what happened to one file in a run.
type Outcome string

const (
	OutcomeIngested Outcome = "ingested"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// FileResult describes the processing of a single file.
type FileResult struct {
	Path        string
	Fingerprint domain.Fingerprint
	Outcome     Outcome
	Chunks      int
	Embedded    int
	Reused      int
	Pruned      int
	Err         error
	ErrorClass  string
	Duration    time.Duration
}

// Summary contains the results of an ingestion run.
type Summary struct {
	RunID    string
	Files    []FileResult
	Ingested int
	Skipped  int
	Failed   int
	Embedded int
	Reused   int
	Pruned   int
	Duration time.Duration
}

func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}

func (s *Summary) add(r FileResult) {
	s.Files = append(s.Files, r)
	switch r.Outcome {
	case OutcomeIngested:
		s.Ingested++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	s.Embedded += r.Embedded
	s.Reused += r.Reused
	s.Pruned += r.Pruned
}

// ProgressFunc is called after each file with the number of files done so far.
type ProgressFunc func(done, total int, result FileResult)

// PipelineDeps are the collaborators of a Pipeline. Refine may be nil to
// skip the refinement stage.
type PipelineDeps struct {
	Ledger  port.Ledger
	Chunker port.Chunker
	Refine  *refiner.Stage
	Embed   *EmbedStage
	Store   port.VectorStore
	Walker  port.FileWalker
}

type PipelineOptions struct {
	Chunking domain.ChunkOptions
	// Workers is the number of files processed at once.
	Workers int
	// PruneStale removes records of a source whose fingerprints the latest
	// successful run no longer produced.
	PruneStale bool
}

// Pipeline runs files through load, ledger gate, chunking, refinement,
// embedding and indexing.
type Pipeline struct {
	deps   PipelineDeps
	opts   PipelineOptions
	load   func(path string) (domain.Document, error)
	locks  *keyedMutex
	logger *slog.Logger
}

func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		load:   loader.Load,
		locks:  newKeyedMutex(),
		logger: slog.Default().With("component", "pipeline"),
	}
}

// IngestPath ingests a single file, or every supported file below a
// directory. Per-file failures are reported in the summary; the returned
// error is reserved for a failed directory walk or cancellation.
func (p *Pipeline) IngestPath(ctx context.Context, path string, progress ProgressFunc) (*Summary, error) {
	paths := []string{path}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		files, err := p.deps.Walker.Walk(path)
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
		paths = paths[:0]
		for _, f := range files {
			if loader.IsSupported(f.Path) {
				paths = append(paths, f.Path)
			}
		}
	}

	return p.IngestFiles(ctx, paths, progress)
}

// IngestFiles ingests the given files under one run id.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string, progress ProgressFunc) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	logger := p.logger.With("run", summary.RunID)
	logger.Info("starting ingestion", "files", len(paths), "workers", p.opts.Workers)

	results := make([]FileResult, len(paths))
	done := make([]bool, len(paths))
	var (
		mu       sync.Mutex
		finished int
	)
	report := func(i int, r FileResult) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = r
		done[i] = true
		finished++
		if progress != nil {
			progress(finished, len(paths), r)
		}
	}

	if p.opts.Workers > 1 && len(paths) > 1 {
		pool, err := ants.NewPool(min(p.opts.Workers, len(paths)))
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		defer pool.Release()

		var wg sync.WaitGroup
		for i, path := range paths {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				report(i, p.IngestFile(ctx, path, summary.RunID))
			}); err != nil {
				wg.Done()
				report(i, failedResult(path, err))
			}
		}
		wg.Wait()
	} else {
		for i, path := range paths {
			if ctx.Err() != nil {
				break
			}
			report(i, p.IngestFile(ctx, path, summary.RunID))
		}
	}

	for i, r := range results {
		if done[i] {
			summary.add(r)
		}
	}
	summary.Duration = time.Since(start)

	logger.Info("ingestion finished",
		"ingested", summary.Ingested, "skipped", summary.Skipped, "failed", summary.Failed,
		"embedded", summary.Embedded, "reused", summary.Reused, "duration", summary.Duration)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// IngestFile runs one file through the pipeline and records the outcome in
// the ledger. Files whose fingerprint already succeeded are skipped.
func (p *Pipeline) IngestFile(ctx context.Context, path, runID string) FileResult {
	start := time.Now()
	logger := p.logger.With("path", path)

	doc, err := p.load(path)
	if err != nil {
		p.recordLoadFailure(ctx, path, runID, err)
		logger.Warn("failed to load file", "class", domain.ErrorClass(err), "err", err)
		return withDuration(failedResult(path, err), start)
	}

	result := FileResult{Path: path, Fingerprint: doc.Fingerprint}

	// one attempt per fingerprint at a time within this process
	unlock := p.locks.Lock(doc.Fingerprint.String())
	defer unlock()

	succeeded, err := p.deps.Ledger.HasSucceeded(ctx, doc.Fingerprint)
	if err != nil {
		return withDuration(result.fail(fmt.Errorf("ledger lookup: %w", err)), start)
	}
	if succeeded {
		logger.Debug("unchanged since last successful run, skipping")
		result.Outcome = OutcomeSkipped
		return withDuration(result, start)
	}

	if err := p.deps.Ledger.Begin(ctx, doc.Fingerprint, path, runID); err != nil {
		return withDuration(result.fail(fmt.Errorf("ledger begin: %w", err)), start)
	}

	procErr := p.process(ctx, doc, &result)

	// the outcome is recorded even when the run is being cancelled
	finalCtx := context.WithoutCancel(ctx)
	if procErr != nil {
		if err := p.deps.Ledger.Complete(finalCtx, doc.Fingerprint, domain.StatusFailed, result.Chunks, procErr.Error()); err != nil {
			logger.Error("failed to record failure", "err", err)
		}
		logger.Warn("ingestion failed", "class", domain.ErrorClass(procErr), "err", procErr)
		return withDuration(result.fail(procErr), start)
	}

	if err := p.deps.Ledger.Complete(finalCtx, doc.Fingerprint, domain.StatusSuccess, result.Chunks, ""); err != nil {
		return withDuration(result.fail(fmt.Errorf("ledger complete: %w", err)), start)
	}

	result.Outcome = OutcomeIngested
	logger.Info("ingested file",
		"chunks", result.Chunks, "embedded", result.Embedded, "reused", result.Reused, "pruned", result.Pruned)
	return withDuration(result, start)
}

func (p *Pipeline) process(ctx context.Context, doc domain.Document, result *FileResult) error {
	chunks, err := p.deps.Chunker.Split(doc, p.opts.Chunking)
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	result.Chunks = len(chunks)

	if p.deps.Refine != nil {
		chunks, err = p.deps.Refine.Process(ctx, chunks)
		if err != nil {
			return fmt.Errorf("refining: %w", err)
		}
	}

	embedded, embedErr := p.deps.Embed.EmbedNew(ctx, chunks)
	if embedded != nil {
		// batches that made it are kept even when others failed
		if err := p.deps.Store.Upsert(ctx, embedded.New); err != nil {
			return fmt.Errorf("upserting records: %w", err)
		}
		result.Embedded = len(embedded.New)
		result.Reused = len(embedded.Existing)
	}
	if embedErr != nil {
		return fmt.Errorf("embedding: %w", embedErr)
	}

	if p.opts.PruneStale {
		keep := make(map[domain.Fingerprint]struct{}, len(chunks))
		for _, rec := range embedded.New {
			keep[rec.ContentFingerprint] = struct{}{}
		}
		for _, rec := range embedded.Existing {
			keep[rec.ContentFingerprint] = struct{}{}
		}
		pruned, err := p.deps.Store.DeleteStale(ctx, doc.SourcePath, keep)
		if err != nil {
			return fmt.Errorf("pruning stale records: %w", err)
		}
		result.Pruned = pruned
	}

	return nil
}

// recordLoadFailure writes a failed ledger record for files that exist but
// cannot be ingested. Missing or unreadable files have no fingerprint and
// are only reported. A fingerprint that already succeeded under another path
// keeps its success record.
func (p *Pipeline) recordLoadFailure(ctx context.Context, path, runID string, loadErr error) {
	if !errors.Is(loadErr, domain.ErrUnsupportedFormat) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	fp := domain.FingerprintBytes(data)

	unlock := p.locks.Lock(fp.String())
	defer unlock()

	succeeded, err := p.deps.Ledger.HasSucceeded(ctx, fp)
	if err != nil || succeeded {
		return
	}
	if err := p.deps.Ledger.Begin(ctx, fp, path, runID); err != nil {
		return
	}
	_ = p.deps.Ledger.Complete(context.WithoutCancel(ctx), fp, domain.StatusFailed, 0, loadErr.Error())
}

func (r FileResult) fail(err error) FileResult {
	r.Outcome = OutcomeFailed
	r.Err = err
	r.ErrorClass = domain.ErrorClass(err)
	return r
}

func failedResult(path string, err error) FileResult {
	return FileResult{Path: path}.fail(err)
}

func withDuration(r FileResult, start time.Time) FileResult {
	r.Duration = time.Since(start)
	return r
}
