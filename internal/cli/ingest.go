package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragingest/config"
	"ragingest/internal/usecase"
)

var (
	ingestNoRefine bool
	ingestRebuild  bool
	ingestWorkers  int
	ingestPrune    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a file or directory into the vector index",
	Long: `Ingest a single file or every supported file below a directory.
Files whose content was already ingested successfully are skipped.
The index and ledger are stored in .rag/ within the root directory.

Examples:
  ragingest ingest .                 # Ingest current directory
  ragingest ingest notes/today.md    # Ingest one file
  ragingest ingest docs --no-refine  # Skip LLM refinement`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestNoRefine, "no-refine", false, "skip LLM refinement and metadata extraction")
	ingestCmd.Flags().BoolVar(&ingestRebuild, "rebuild", false, "clear the index and ledger before ingesting")
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "files processed in parallel (default from config)")
	ingestCmd.Flags().BoolVar(&ingestPrune, "prune", false, "remove records a file no longer produces")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("path does not exist: %w", err)
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

	pipeline, err := newPipeline(cfg, b, pipelineFlags{
		noRefine: ingestNoRefine,
		workers:  ingestWorkers,
		prune:    ingestPrune,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Scanning %s...\n", path)

	summary, err := pipeline.IngestPath(ctx, path, newProgress("Ingesting"))
	if err != nil && summary == nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	printSummary(summary)
	if err != nil {
		return fmt.Errorf("ingestion interrupted: %w", err)
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d file(s) failed", summary.Failed)
	}
	return nil
}

// prepareIndex runs schema migrations and handles configuration changes that
// invalidate the stored vectors.
func prepareIndex(ctx context.Context, cfg *config.Config, b *backends) error {
	migration, err := b.bolt.CheckMigration(cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	switch {
	case ingestRebuild:
		color.Yellow("Clearing index and ledger...")
		if err := b.reset(ctx); err != nil {
			return err
		}
	case migration.NeedsRebuild:
		color.Yellow("Index rebuild recommended: %s", migration.Reason)
		color.Yellow("Existing records were built with different settings; run with --rebuild to start over.")
		return nil
	case migration.NeedsMigration:
		fmt.Printf("Running schema migration: %s\n", migration.Reason)
	default:
		return nil
	}

	if err := b.bolt.Migrate(cfg); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// newProgress returns a callback that renders a progress bar with an ETA.
func newProgress(label string) usecase.ProgressFunc {
	var (
		bar       *progressbar.ProgressBar
		mu        sync.Mutex
		startTime time.Time
	)

	return func(done, total int, _ usecase.FileResult) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription(color.CyanString(label)),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		_ = bar.Set(done)

		elapsed := time.Since(startTime)
		if rate := float64(done) / elapsed.Seconds(); rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			bar.Describe(fmt.Sprintf("%s ETA: %s", color.CyanString(label), formatDuration(eta)))
		}
	}
}

func printSummary(s *usecase.Summary) {
	fmt.Println()
	if s.HasFailures() {
		color.Red("Ingestion finished with failures:")
	} else {
		color.Green("Ingestion complete:")
	}
	fmt.Printf("  Run:             %s\n", s.RunID)
	fmt.Printf("  Files ingested:  %d\n", s.Ingested)
	fmt.Printf("  Files skipped:   %d (unchanged)\n", s.Skipped)
	fmt.Printf("  Files failed:    %d\n", s.Failed)
	fmt.Printf("  Chunks embedded: %d\n", s.Embedded)
	fmt.Printf("  Chunks reused:   %d\n", s.Reused)
	if s.Pruned > 0 {
		fmt.Printf("  Chunks pruned:   %d\n", s.Pruned)
	}
	fmt.Printf("  Duration:        %s\n", formatDuration(s.Duration))

	if s.Failed == 0 {
		return
	}
	fmt.Println()
	for _, r := range s.Files {
		if r.Outcome != usecase.OutcomeFailed {
			continue
		}
		color.Red("  - %s [%s]: %v", r.Path, r.ErrorClass, r.Err)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
