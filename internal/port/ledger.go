package port

import (
	"context"

	"ragingest/internal/domain"
)

// Ledger records the outcome of every ingestion attempt per file fingerprint.
type Ledger interface {
	// HasSucceeded reports whether fp has a record with status success.
	HasSucceeded(ctx context.Context, fp domain.Fingerprint) (bool, error)

	// Begin writes a processing record for fp, replacing any previous one.
	Begin(ctx context.Context, fp domain.Fingerprint, sourcePath, runID string) error

	// Complete moves the record for fp to a terminal status.
	Complete(ctx context.Context, fp domain.Fingerprint, status domain.Status, chunkCount int, errMsg string) error

	Get(ctx context.Context, fp domain.Fingerprint) (domain.IngestionRecord, error)
	List(ctx context.Context) ([]domain.IngestionRecord, error)
	Clear(ctx context.Context) error
}
