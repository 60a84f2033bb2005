package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion tool.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Chunking  ChunkingConfig  `yaml:"chunking" toml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry"`
	Index     IndexConfig     `yaml:"index" toml:"index"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// IngestConfig controls which files are picked up and what happens to them.
type IngestConfig struct {
	Includes         []string `yaml:"includes" toml:"includes"`
	Excludes         []string `yaml:"excludes" toml:"excludes"`
	Workers          int      `yaml:"workers" toml:"workers"`
	EnableRefinement bool     `yaml:"enable_refinement" toml:"enable_refinement"`
	EnableMetadata   bool     `yaml:"enable_metadata" toml:"enable_metadata"`
}

// ChunkingConfig holds text splitting configuration.
type ChunkingConfig struct {
	ChunkSize    int      `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap" toml:"chunk_overlap"`
	Separators   []string `yaml:"separators" toml:"separators"` // empty means the built-in hierarchy
	Tokenizer    string   `yaml:"tokenizer" toml:"tokenizer"`   // "word" or "bpe"
	Encoding     string   `yaml:"encoding" toml:"encoding"`     // BPE encoding, e.g. "cl100k_base"
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider" toml:"provider"` // "openai", "ollama", "mock"
	Model       string `yaml:"model" toml:"model"`       // e.g., "text-embedding-3-small"
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env" toml:"api_key_env"` // Environment variable for API key
	Dimension   int    `yaml:"dimension" toml:"dimension"`
	BatchSize   int    `yaml:"batch_size" toml:"batch_size"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
}

// LLMConfig configures the generator behind refinement and metadata extraction.
type LLMConfig struct {
	Provider          string  `yaml:"provider" toml:"provider"` // "openai", "ollama", "none"
	Model             string  `yaml:"model" toml:"model"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Temperature       float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"` // 0 = unlimited
}

// RetryConfig holds backoff settings for external calls.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries" toml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms" toml:"base_delay_ms"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend     string `yaml:"backend" toml:"backend"` // "bolt" or "pgvector"
	Path        string `yaml:"path" toml:"path"`       // bolt file; empty means .rag/index.db
	PostgresURL string `yaml:"postgres_url" toml:"postgres_url"`
	Table       string `yaml:"table" toml:"table"`
	PruneStale  bool   `yaml:"prune_stale" toml:"prune_stale"`
}

// LedgerConfig selects the ingestion ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // "bolt" or "sqlite"
	Path    string `yaml:"path" toml:"path"`       // sqlite file; empty means .rag/ledger.db
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			Includes:         []string{"**/*.txt", "**/*.md", "**/*.markdown"},
			Excludes:         []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/.rag/**", "**/dist/**", "**/build/**"},
			Workers:          1,
			EnableRefinement: true,
			EnableMetadata:   true,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Tokenizer:    "word",
			Encoding:     "cl100k_base",
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			APIKeyEnv:   "OPENAI_API_KEY",
			Dimension:   1536,
			BatchSize:   100,
			Concurrency: 1,
		},
		LLM: LLMConfig{
			Provider:    "none",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0,
			MaxTokens:   1024,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelayMS: 1000,
		},
		Index: IndexConfig{
			Backend: "bolt",
			Table:   "rag_chunks",
		},
		Ledger: LedgerConfig{
			Backend: "bolt",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML or TOML file. Environment overrides
// are applied on top of the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for rag.yaml,
// .rag/config.yaml, then rag.toml).
func LoadFromDir(dir string) (*Config, error) {
	candidates := []string{
		filepath.Join(dir, "rag.yaml"),
		filepath.Join(dir, ".rag", "config.yaml"),
		filepath.Join(dir, "rag.toml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RAG_DATABASE_URL"); v != "" {
		c.Index.PostgresURL = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		if c.Embedding.Provider == "ollama" {
			c.Embedding.BaseURL = v
		}
		if c.LLM.Provider == "ollama" {
			c.LLM.BaseURL = v
		}
	}
}

// Save saves configuration to a YAML or TOML file depending on its extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".rag", "index.db")
}

// LedgerDBPath returns the default path of the SQLite ledger.
func LedgerDBPath(dir string) string {
	return filepath.Join(dir, ".rag", "ledger.db")
}

// EnsureRAGDir ensures the .rag directory exists.
func EnsureRAGDir(dir string) error {
	ragDir := filepath.Join(dir, ".rag")
	return os.MkdirAll(ragDir, 0755)
}
