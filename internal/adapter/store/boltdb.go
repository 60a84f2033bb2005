package store

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketLedger  = []byte("ledger")
	bucketVectors = []byte("vectors")
	bucketSources = []byte("sources")
	bucketMeta    = []byte("meta")
	keyDimension  = []byte("dimension")
)

// lockTimeout bounds how long Open waits for another process holding the
// database file lock.
const lockTimeout = 30 * time.Second

// BoltStore owns the bbolt database shared by the vector index and the
// ingestion ledger. bbolt allows one writer process at a time, so concurrent
// ingestion runs against the same directory take turns.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("index %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketLedger, bucketVectors, bucketSources, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, path: path}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Path() string {
	return s.path
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// clearBucket deletes and recreates a top level bucket.
func clearBucket(tx *bbolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return err
	}
	_, err := tx.CreateBucket(name)
	return err
}
