package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Config selects and tunes a text-generation backend.
type Config struct {
	Provider          string // "openai" or "ollama"
	Model             string
	BaseURL           string
	APIKeyEnv         string
	Temperature       float64
	MaxTokens         int
	RequestsPerSecond float64
}

// Generator sends single prompts to a langchaingo model. Calls are throttled
// by a token bucket when RequestsPerSecond is set.
type Generator struct {
	model       llms.Model
	name        string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// New creates a Generator for the configured provider.
func New(cfg Config) (*Generator, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKeyEnv != "" {
			key := os.Getenv(cfg.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
			}
			opts = append(opts, openai.WithToken(key))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s model: %w", cfg.Provider, err)
	}

	return NewFromModel(model, cfg.Model, cfg), nil
}

// NewFromModel wraps an already constructed model.
func NewFromModel(model llms.Model, name string, cfg Config) *Generator {
	g := &Generator{
		model:       model,
		name:        name,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      slog.Default().With("component", "generator", "model", name),
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, opts...)
	if err != nil {
		g.logger.Debug("generation failed", "err", err)
		return "", ClassifyError(ctx, err)
	}
	return out, nil
}

func (g *Generator) ModelName() string {
	return g.name
}
