package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"ragingest/internal/adapter/llm"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder embeds text with a local Ollama model through langchaingo.
type OllamaEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	logger    *slog.Logger
}

func NewOllamaEmbedder(model, baseURL string, dimension int) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if dimension <= 0 {
		dimension = defaultDimension(model)
	}

	client, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &OllamaEmbedder{
		embedder:  embedder,
		model:     model,
		dimension: dimension,
		logger:    slog.Default().With("component", "ollama-embedder"),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, llm.ClassifyError(ctx, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}
