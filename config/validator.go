package config

import (
	"errors"
	"fmt"
	"net/url"

	"ragingest/internal/domain"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return domain.ErrInvalidConfig
}

// Validate reports every invalid field at once. The returned error matches
// domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	if c.Ingest.Workers < 1 {
		add("ingest.workers", "workers must be positive")
	}

	// Chunking
	if c.Chunking.ChunkSize < 1 {
		add("chunking.chunk_size", "chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 {
		add("chunking.chunk_overlap", "chunk_overlap must not be negative")
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		add("chunking.chunk_overlap", "chunk_overlap must be smaller than chunk_size")
	}
	switch c.Chunking.Tokenizer {
	case "word", "bpe":
	default:
		add("chunking.tokenizer", "tokenizer must be one of: word, bpe")
	}

	// Embedding
	switch c.Embedding.Provider {
	case "openai", "ollama", "mock":
	default:
		add("embedding.provider", "provider must be one of: openai, ollama, mock")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKeyEnv == "" {
		add("embedding.api_key_env", "api_key_env is required for the openai provider")
	}
	if c.Embedding.Dimension < 0 {
		add("embedding.dimension", "dimension must not be negative")
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}
	if c.Embedding.Concurrency < 1 {
		add("embedding.concurrency", "concurrency must be positive")
	}
	if c.Embedding.BaseURL != "" {
		if _, err := url.Parse(c.Embedding.BaseURL); err != nil {
			add("embedding.base_url", "invalid base URL")
		}
	}

	// LLM
	switch c.LLM.Provider {
	case "openai", "ollama", "none":
	default:
		add("llm.provider", "provider must be one of: openai, ollama, none")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens", "max_tokens must not be negative")
	}
	if c.LLM.RequestsPerSecond < 0 {
		add("llm.requests_per_second", "requests_per_second must not be negative")
	}

	// Retry
	if c.Retry.MaxRetries < 1 {
		add("retry.max_retries", "max_retries must be positive")
	}
	if c.Retry.BaseDelayMS < 0 {
		add("retry.base_delay_ms", "base_delay_ms must not be negative")
	}

	// Storage
	switch c.Index.Backend {
	case "bolt":
	case "pgvector":
		if c.Index.PostgresURL == "" {
			add("index.postgres_url", "postgres_url (or RAG_DATABASE_URL) is required for the pgvector backend")
		} else if _, err := url.Parse(c.Index.PostgresURL); err != nil {
			add("index.postgres_url", "invalid database URL")
		}
		if c.Index.Table == "" {
			add("index.table", "table is required for the pgvector backend")
		}
	default:
		add("index.backend", "backend must be one of: bolt, pgvector")
	}
	switch c.Ledger.Backend {
	case "bolt", "sqlite":
	default:
		add("ledger.backend", "backend must be one of: bolt, sqlite")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "level must be one of: debug, info, warn, error")
	}

	return errors.Join(errs...)
}
