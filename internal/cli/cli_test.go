package cli

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"ragingest/config"
	"ragingest/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 7*time.Minute, "2h7m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimension = 32

	e, err := newEmbedder(cfg)
	if err != nil {
		t.Fatalf("newEmbedder: %v", err)
	}
	if e.Dimension() != 32 {
		t.Errorf("expected dimension 32, got %d", e.Dimension())
	}

	cfg.Embedding.Provider = "carrier-pigeon"
	if _, err := newEmbedder(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewRefineStageDisabled(t *testing.T) {
	cfg := config.DefaultConfig()

	stage, err := newRefineStage(cfg, false)
	if err != nil || stage != nil {
		t.Errorf("provider none: expected no stage, got %v, %v", stage, err)
	}

	cfg.LLM.Provider = "ollama"
	stage, err = newRefineStage(cfg, true)
	if err != nil || stage != nil {
		t.Errorf("--no-refine: expected no stage, got %v, %v", stage, err)
	}
}

func TestOpenBackendsAndRebuild(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimension = 16
	cfg.Ledger.Backend = "sqlite"

	b, err := openBackends(ctx, cfg, dir)
	if err != nil {
		t.Fatalf("openBackends: %v", err)
	}
	defer b.Close()

	if b.bolt.Path() != filepath.Join(dir, ".rag", "index.db") {
		t.Errorf("unexpected index path %s", b.bolt.Path())
	}

	fp := domain.FingerprintBytes([]byte("x"))
	if err := b.ledger.Begin(ctx, fp, "x.txt", "run"); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ingestRebuild = true
	defer func() { ingestRebuild = false }()
	if err := prepareIndex(ctx, cfg, b); err != nil {
		t.Fatalf("prepareIndex: %v", err)
	}

	records, err := b.ledger.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected rebuild to clear the ledger, got %d records", len(records))
	}

	result, err := b.bolt.CheckMigration(cfg)
	if err != nil {
		t.Fatalf("CheckMigration: %v", err)
	}
	if result.NeedsMigration || result.NeedsRebuild {
		t.Errorf("expected schema to be current after rebuild, got %+v", result)
	}
}
