package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ragingest/internal/domain"
)

var (
	statusFailedOnly bool
	statusJSON       bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ingestion ledger",
	Long: `List every file fingerprint recorded in the ledger, newest first, together
with the number of records held by the index.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusFailedOnly, "failed", false, "only show failed files")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openBackends(ctx, GetConfig(), GetRootDir())
	if err != nil {
		return err
	}
	defer b.Close()

	records, err := b.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if statusFailedOnly {
		filtered := records[:0]
		for _, r := range records {
			if r.Status == domain.StatusFailed {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	count, err := b.vectors.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count index records: %w", err)
	}
	fmt.Printf("Index records: %d\n", count)
	fmt.Printf("Ledger entries: %d\n\n", len(records))

	for _, r := range records {
		status := string(r.Status)
		switch r.Status {
		case domain.StatusSuccess:
			status = color.GreenString(status)
		case domain.StatusFailed:
			status = color.RedString(status)
		default:
			status = color.YellowString(status)
		}
		fmt.Printf("%s  %-10s  %4d chunks  %s  %s\n",
			r.ProcessedAt.Local().Format("2006-01-02 15:04:05"),
			status, r.ChunkCount, r.FileFingerprint.String()[:12], r.SourcePath)
		if r.Error != "" {
			fmt.Printf("    %s\n", r.Error)
		}
	}

	return nil
}
