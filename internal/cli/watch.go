package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ragingest/internal/adapter/fs"
	"ragingest/internal/adapter/loader"
	"ragingest/internal/usecase"
)

var (
	watchDebounce time.Duration
	watchNoRefine bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest files as they are created or changed",
	Long: `Watch a directory and ingest supported files whenever they are written.
Bursts of writes are batched; unchanged content is skipped by the ledger.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before ingesting changed files")
	watchCmd.Flags().BoolVar(&watchNoRefine, "no-refine", false, "skip LLM refinement and metadata extraction")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := GetRootDir()
	if len(args) > 0 {
		var err error
		dir, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	cfg := GetConfig()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	b, err := openBackends(ctx, cfg, GetRootDir())
	if err != nil {
		return err
	}
	defer b.Close()

	if err := prepareIndex(ctx, cfg, b); err != nil {
		return err
	}

	pipeline, err := newPipeline(cfg, b, pipelineFlags{noRefine: watchNoRefine})
	if err != nil {
		return err
	}

	// watch first so writes made during the catch-up scan are queued
	watcher, err := fs.NewWatcher(dir, fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes), watchDebounce)
	if err != nil {
		return err
	}
	defer watcher.Close()

	summary, err := pipeline.IngestPath(ctx, dir, nil)
	if err != nil {
		return fmt.Errorf("initial ingestion failed: %w", err)
	}
	printSummary(summary)

	color.Cyan("\nWatching %s (Ctrl+C to stop)", dir)

	err = watcher.Run(ctx, func(paths []string) {
		var supported []string
		for _, p := range paths {
			if loader.IsSupported(p) {
				supported = append(supported, p)
			}
		}
		if len(supported) == 0 {
			return
		}

		s, err := pipeline.IngestFiles(ctx, supported, nil)
		if err != nil {
			return
		}
		for _, r := range s.Files {
			switch r.Outcome {
			case usecase.OutcomeIngested:
				color.Green("ingested %s (%d embedded, %d reused)", r.Path, r.Embedded, r.Reused)
			case usecase.OutcomeFailed:
				color.Red("failed %s [%s]: %v", r.Path, r.ErrorClass, r.Err)
			}
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
