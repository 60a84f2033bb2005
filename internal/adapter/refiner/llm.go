package refiner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// LLMRefiner refines chunks and extracts metadata with a text-generation model.
type LLMRefiner struct {
	gen    port.Generator
	logger *slog.Logger
}

func NewLLMRefiner(gen port.Generator) *LLMRefiner {
	return &LLMRefiner{
		gen:    gen,
		logger: slog.Default().With("component", "llm-refiner"),
	}
}

// Refine returns a copy of chunk whose content is the model's cleaned text.
func (r *LLMRefiner) Refine(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	r.logger.Debug("refining chunk", "source", chunk.SourcePath, "index", chunk.ChunkIndex)

	out, err := r.gen.Generate(ctx, refinePrompt(chunk.Content))
	if err != nil {
		return chunk, err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return chunk, domain.Transient(errors.New("model returned an empty refinement"))
	}

	refined := chunk
	refined.Content = out
	return refined, nil
}

// ExtractMetadata asks the model for a title and summary of the chunk.
func (r *LLMRefiner) ExtractMetadata(ctx context.Context, chunk domain.Chunk) (domain.ChunkMetadata, error) {
	r.logger.Debug("extracting metadata", "source", chunk.SourcePath, "index", chunk.ChunkIndex)

	out, err := r.gen.Generate(ctx, metadataPrompt(chunk.Content))
	if err != nil {
		return domain.ChunkMetadata{}, err
	}
	return parseMetadata(out)
}

// parseMetadata decodes the model's JSON reply. Replies that are not valid
// JSON or lack a field are transient: the same prompt may succeed on retry.
func parseMetadata(reply string) (domain.ChunkMetadata, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var parsed struct {
		Title   *string `json:"title"`
		Summary *string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return domain.ChunkMetadata{}, domain.Transient(fmt.Errorf("malformed metadata reply: %w", err))
	}
	if parsed.Title == nil || parsed.Summary == nil {
		return domain.ChunkMetadata{}, domain.Transient(errors.New("metadata reply is missing title or summary"))
	}

	return domain.ChunkMetadata{
		Title:   strings.TrimSpace(*parsed.Title),
		Summary: strings.TrimSpace(*parsed.Summary),
	}, nil
}
