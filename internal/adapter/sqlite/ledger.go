// Package sqlite provides a SQLite-backed ingestion ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"ragingest/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingestion_history (
	file_hash    TEXT PRIMARY KEY,
	source_path  TEXT NOT NULL,
	status       TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	run_id       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ingestion_history_processed_at ON ingestion_history(processed_at);
`

// Ledger stores ingestion records in the ingestion_history table. SQLite
// serialises writers, so several processes may share one ledger file.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	// WAL lets readers proceed while another process writes
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path, now: time.Now}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) HasSucceeded(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx,
		`SELECT status FROM ingestion_history WHERE file_hash = ?`, fp.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return domain.Status(status) == domain.StatusSuccess, nil
}

func (l *Ledger) Begin(ctx context.Context, fp domain.Fingerprint, sourcePath, runID string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ingestion_history (file_hash, source_path, status, processed_at, chunk_count, run_id, error)
		VALUES (?, ?, ?, ?, 0, ?, '')
		ON CONFLICT(file_hash) DO UPDATE SET
			source_path = excluded.source_path,
			status = excluded.status,
			processed_at = excluded.processed_at,
			chunk_count = 0,
			run_id = excluded.run_id,
			error = ''
	`, fp.String(), sourcePath, string(domain.StatusProcessing), l.timestamp(), runID)
	if err != nil {
		return fmt.Errorf("beginning ledger record: %w", err)
	}
	return nil
}

func (l *Ledger) Complete(ctx context.Context, fp domain.Fingerprint, status domain.Status, chunkCount int, errMsg string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ingestion_history (file_hash, source_path, status, processed_at, chunk_count, run_id, error)
		VALUES (?, '', ?, ?, ?, '', ?)
		ON CONFLICT(file_hash) DO UPDATE SET
			status = excluded.status,
			processed_at = excluded.processed_at,
			chunk_count = excluded.chunk_count,
			error = excluded.error
	`, fp.String(), string(status), l.timestamp(), chunkCount, errMsg)
	if err != nil {
		return fmt.Errorf("completing ledger record: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, fp domain.Fingerprint) (domain.IngestionRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT file_hash, source_path, status, processed_at, chunk_count, run_id, error
		FROM ingestion_history WHERE file_hash = ?
	`, fp.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IngestionRecord{}, fmt.Errorf("ledger record %s: %w", fp, domain.ErrNotFound)
	}
	return rec, err
}

// List returns every record, most recently processed first.
func (l *Ledger) List(ctx context.Context) ([]domain.IngestionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT file_hash, source_path, status, processed_at, chunk_count, run_id, error
		FROM ingestion_history ORDER BY processed_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	var records []domain.IngestionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (l *Ledger) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM ingestion_history`); err != nil {
		return fmt.Errorf("clearing ledger: %w", err)
	}
	return nil
}

// timestamp uses a fixed-width layout so text ordering matches time ordering.
func (l *Ledger) timestamp() string {
	return l.now().UTC().Format("2006-01-02T15:04:05.000000000Z")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (domain.IngestionRecord, error) {
	var (
		rec         domain.IngestionRecord
		hash        string
		status      string
		processedAt string
	)
	if err := s.Scan(&hash, &rec.SourcePath, &status, &processedAt, &rec.ChunkCount, &rec.RunID, &rec.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scanning ledger record: %w", err)
	}

	fp, err := domain.ParseFingerprint(hash)
	if err != nil {
		return rec, fmt.Errorf("invalid file hash %q: %w", hash, err)
	}
	rec.FileFingerprint = fp
	rec.Status = domain.Status(status)

	if t, err := time.Parse(time.RFC3339Nano, processedAt); err == nil {
		rec.ProcessedAt = t
	}
	return rec, nil
}
