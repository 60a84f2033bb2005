package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ragingest/internal/domain"
	"ragingest/internal/usecase"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the vector index",
	Long: `Embed a query and return the most similar chunks by cosine similarity.

Examples:
  ragingest query -q "harbor tide tables"
  ragingest query -q "boat repair" --top-k 10 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "number of results")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	_ = queryCmd.MarkFlagRequired("query")
}

type queryResult struct {
	Path    string  `json:"path"`
	Chunk   int     `json:"chunk"`
	Title   string  `json:"title,omitempty"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	b, err := openBackends(ctx, cfg, GetRootDir())
	if err != nil {
		return err
	}
	defer b.Close()

	index := usecase.NewIndex(b.embedder, b.vectors, retryPolicy(cfg))
	scored, err := index.SimilaritySearch(ctx, queryText, queryTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results := make([]queryResult, len(scored))
	for i, s := range scored {
		results[i] = queryResult{
			Path:    s.Record.SourcePath(),
			Chunk:   s.Record.ChunkIndex(),
			Title:   s.Record.Metadata[domain.MetaTitle],
			Summary: s.Record.Metadata[domain.MetaSummary],
			Score:   s.Score,
			Text:    s.Record.Content,
		}
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		color.Cyan("--- [%d] %s#%d (score: %.3f) ---", i+1, r.Path, r.Chunk, r.Score)
		if r.Title != "" {
			fmt.Printf("Title: %s\n", r.Title)
		}
		text := r.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}

	return nil
}
