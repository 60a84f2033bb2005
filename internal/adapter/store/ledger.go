package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"ragingest/internal/domain"
)

// BoltLedger records ingestion outcomes in the ledger bucket, keyed by the
// hex file fingerprint.
type BoltLedger struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltLedger(db *bbolt.DB) (*BoltLedger, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger bucket: %w", err)
	}
	return &BoltLedger{db: db, now: time.Now}, nil
}

func (l *BoltLedger) HasSucceeded(_ context.Context, fp domain.Fingerprint) (bool, error) {
	rec, err := l.get(fp)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Status == domain.StatusSuccess, nil
}

// Begin marks fp as processing, replacing any previous record for it.
func (l *BoltLedger) Begin(_ context.Context, fp domain.Fingerprint, sourcePath, runID string) error {
	return l.put(domain.IngestionRecord{
		FileFingerprint: fp,
		SourcePath:      sourcePath,
		Status:          domain.StatusProcessing,
		ProcessedAt:     l.now().UTC(),
		RunID:           runID,
	})
}

// Complete sets the final status. A missing record is created.
func (l *BoltLedger) Complete(_ context.Context, fp domain.Fingerprint, status domain.Status, chunkCount int, errMsg string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		rec := domain.IngestionRecord{FileFingerprint: fp}
		if data := b.Get([]byte(fp.String())); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to decode ledger record: %w", err)
			}
		}
		rec.Status = status
		rec.ChunkCount = chunkCount
		rec.Error = errMsg
		rec.ProcessedAt = l.now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(fp.String()), data)
	})
}

func (l *BoltLedger) Get(_ context.Context, fp domain.Fingerprint) (domain.IngestionRecord, error) {
	rec, err := l.get(fp)
	if err != nil {
		return domain.IngestionRecord{}, err
	}
	if rec == nil {
		return domain.IngestionRecord{}, fmt.Errorf("ledger record %s: %w", fp, domain.ErrNotFound)
	}
	return *rec, nil
}

// List returns every record, most recently processed first.
func (l *BoltLedger) List(context.Context) ([]domain.IngestionRecord, error) {
	var records []domain.IngestionRecord
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLedger).ForEach(func(_, v []byte) error {
			var rec domain.IngestionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip corrupted entries
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ProcessedAt.After(records[j].ProcessedAt)
	})
	return records, nil
}

func (l *BoltLedger) Clear(context.Context) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return clearBucket(tx, bucketLedger)
	})
}

func (l *BoltLedger) get(fp domain.Fingerprint) (*domain.IngestionRecord, error) {
	var rec *domain.IngestionRecord
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketLedger).Get([]byte(fp.String()))
		if data == nil {
			return nil
		}
		rec = &domain.IngestionRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger record: %w", err)
	}
	return rec, nil
}

func (l *BoltLedger) put(rec domain.IngestionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLedger).Put([]byte(rec.FileFingerprint.String()), data)
	})
}
