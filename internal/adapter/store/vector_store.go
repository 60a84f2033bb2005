package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"ragingest/internal/domain"
)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Uses brute-force search for simplicity; can be replaced with HNSW for larger indexes.
//
// Records live in the vectors bucket keyed by id. The sources bucket holds
// one nested bucket per source path mapping record ids to their content
// fingerprints, which serves fingerprint lookups and stale pruning.
type BoltVectorStore struct {
	db        *bbolt.DB
	mu        sync.RWMutex
	dimension int
	// In-memory cache for fast search
	records map[string]vectorEntry
}

type vectorEntry struct {
	seq    uint64
	record domain.ChunkRecord
}

type storedRecord struct {
	Seq         uint64             `json:"seq"`
	Content     string             `json:"content"`
	Metadata    map[string]string  `json:"m,omitempty"`
	Vector      []float32          `json:"v"`
	Fingerprint domain.Fingerprint `json:"fp"`
}

// NewBoltVectorStore opens the vector index inside db and loads it into memory.
func NewBoltVectorStore(db *bbolt.DB) (*BoltVectorStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketVectors, bucketSources, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector buckets: %w", err)
	}

	s := &BoltVectorStore{
		db:      db,
		records: make(map[string]vectorEntry),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return s, nil
}

func (s *BoltVectorStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if dim := tx.Bucket(bucketMeta).Get(keyDimension); len(dim) == 8 {
			s.dimension = int(binary.BigEndian.Uint64(dim))
		}

		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedRecord
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			s.records[string(k)] = vectorEntry{
				seq: stored.Seq,
				record: domain.ChunkRecord{
					ID:                 string(k),
					Content:            stored.Content,
					Metadata:           stored.Metadata,
					Embedding:          stored.Vector,
					ContentFingerprint: stored.Fingerprint,
				},
			}
			return nil
		})
	})
}

// Dimension returns the fixed vector dimension, or 0 before the first write.
func (s *BoltVectorStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Upsert writes records keyed by id. The first write fixes the dimension;
// later writes of another length fail with ErrDimensionMismatch. Overwriting
// an id keeps its original insertion sequence.
func (s *BoltVectorStore) Upsert(_ context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	if dimension == 0 {
		dimension = len(records[0].Embedding)
	}
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", rec.ID)
		}
		if len(rec.Embedding) != dimension {
			return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dimension, len(rec.Embedding))
		}
	}

	written := make(map[string]vectorEntry, len(records))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		vectors := tx.Bucket(bucketVectors)
		sources := tx.Bucket(bucketSources)

		if s.dimension == 0 {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(dimension))
			if err := tx.Bucket(bucketMeta).Put(keyDimension, buf); err != nil {
				return err
			}
		}

		for _, rec := range records {
			seq, err := s.sequenceFor(vectors, rec.ID, written)
			if err != nil {
				return err
			}

			data, err := json.Marshal(storedRecord{
				Seq:         seq,
				Content:     rec.Content,
				Metadata:    rec.Metadata,
				Vector:      rec.Embedding,
				Fingerprint: rec.ContentFingerprint,
			})
			if err != nil {
				return err
			}
			if err := vectors.Put([]byte(rec.ID), data); err != nil {
				return err
			}

			src, err := sources.CreateBucketIfNotExists(sourceKey(rec.SourcePath()))
			if err != nil {
				return err
			}
			if err := src.Put([]byte(rec.ID), []byte(rec.ContentFingerprint.String())); err != nil {
				return err
			}

			written[rec.ID] = vectorEntry{seq: seq, record: rec}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	// Update in-memory cache
	s.dimension = dimension
	for id, entry := range written {
		s.records[id] = entry
	}
	return nil
}

func (s *BoltVectorStore) sequenceFor(vectors *bbolt.Bucket, id string, written map[string]vectorEntry) (uint64, error) {
	if entry, ok := written[id]; ok {
		return entry.seq, nil
	}
	if entry, ok := s.records[id]; ok {
		return entry.seq, nil
	}
	return vectors.NextSequence()
}

// Search finds the k nearest records to the query using cosine similarity.
func (s *BoltVectorStore) Search(_ context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(query), s.dimension)
	}

	if len(s.records) == 0 {
		return nil, nil
	}

	// Calculate similarity for all vectors (brute force)
	type scored struct {
		entry vectorEntry
		score float64
	}

	scores := make([]scored, 0, len(s.records))
	for _, entry := range s.records {
		scores = append(scores, scored{
			entry: entry,
			score: cosineSimilarity(query, entry.record.Embedding),
		})
	}

	// Sort by score descending, then insertion order
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].entry.seq < scores[j].entry.seq
	})

	if k > len(scores) {
		k = len(scores)
	}

	results := make([]domain.ScoredRecord, k)
	for i := 0; i < k; i++ {
		results[i] = domain.ScoredRecord{
			Record: scores[i].entry.record,
			Score:  scores[i].score,
		}
	}

	return results, nil
}

// ExistingFingerprints returns the content fingerprints stored for sourcePath,
// or for every record when sourcePath is empty.
func (s *BoltVectorStore) ExistingFingerprints(_ context.Context, sourcePath string) (map[domain.Fingerprint]struct{}, error) {
	fps := make(map[domain.Fingerprint]struct{})

	if sourcePath == "" {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, entry := range s.records {
			fps[entry.record.ContentFingerprint] = struct{}{}
		}
		return fps, nil
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		src := tx.Bucket(bucketSources).Bucket(sourceKey(sourcePath))
		if src == nil {
			return nil
		}
		return src.ForEach(func(_, v []byte) error {
			fp, err := domain.ParseFingerprint(string(v))
			if err != nil {
				return nil // Skip corrupted entries
			}
			fps[fp] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprints: %w", err)
	}
	return fps, nil
}

// DeleteStale removes the records of sourcePath whose content fingerprints
// are not in keep.
func (s *BoltVectorStore) DeleteStale(_ context.Context, sourcePath string, keep map[domain.Fingerprint]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		src := tx.Bucket(bucketSources).Bucket(sourceKey(sourcePath))
		if src == nil {
			return nil
		}

		var stale [][]byte
		if err := src.ForEach(func(k, v []byte) error {
			fp, err := domain.ParseFingerprint(string(v))
			if err != nil {
				return nil // Skip corrupted entries
			}
			if _, ok := keep[fp]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		vectors := tx.Bucket(bucketVectors)
		for _, id := range stale {
			if err := vectors.Delete(id); err != nil {
				return err
			}
			if err := src.Delete(id); err != nil {
				return err
			}
			removed = append(removed, string(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale records: %w", err)
	}

	for _, id := range removed {
		delete(s.records, id)
	}
	return len(removed), nil
}

// Count returns the number of records in the store.
func (s *BoltVectorStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Clear removes every record and forgets the dimension.
func (s *BoltVectorStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := clearBucket(tx, bucketVectors); err != nil {
			return err
		}
		if err := clearBucket(tx, bucketSources); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(keyDimension)
	})
	if err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}

	s.records = make(map[string]vectorEntry)
	s.dimension = 0
	return nil
}

// sourceKey maps a source path to its nested bucket name; bbolt rejects
// empty bucket names.
func sourceKey(sourcePath string) []byte {
	return []byte("src:" + sourcePath)
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
