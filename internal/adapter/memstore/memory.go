package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// VectorStore keeps chunk records in memory. It follows the same dimension
// and ordering rules as the persistent stores.
type VectorStore struct {
	mu        sync.RWMutex
	records   map[string]entry
	nextSeq   uint64
	dimension int
}

type entry struct {
	seq    uint64
	record domain.ChunkRecord
}

func NewVectorStore() *VectorStore {
	return &VectorStore{records: make(map[string]entry)}
}

func (s *VectorStore) Upsert(_ context.Context, records []domain.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	if dimension == 0 && len(records) > 0 {
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

	s.dimension = dimension
	for _, rec := range records {
		e, ok := s.records[rec.ID]
		if !ok {
			s.nextSeq++
			e.seq = s.nextSeq
		}
		e.record = rec
		s.records[rec.ID] = e
	}
	return nil
}

func (s *VectorStore) Search(_ context.Context, query []float32, k int) ([]domain.ScoredRecord, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(query), s.dimension)
	}

	entries := make([]entry, 0, len(s.records))
	scores := make(map[string]float64, len(s.records))
	for id, e := range s.records {
		entries = append(entries, e)
		scores[id] = cosine(query, e.record.Embedding)
	}
	sort.Slice(entries, func(i, j int) bool {
		si, sj := scores[entries[i].record.ID], scores[entries[j].record.ID]
		if si != sj {
			return si > sj
		}
		return entries[i].seq < entries[j].seq
	})

	if k > len(entries) {
		k = len(entries)
	}
	results := make([]domain.ScoredRecord, k)
	for i := range results {
		results[i] = domain.ScoredRecord{Record: entries[i].record, Score: scores[entries[i].record.ID]}
	}
	return results, nil
}

func (s *VectorStore) ExistingFingerprints(_ context.Context, sourcePath string) (map[domain.Fingerprint]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fps := make(map[domain.Fingerprint]struct{})
	for _, e := range s.records {
		if sourcePath == "" || e.record.SourcePath() == sourcePath {
			fps[e.record.ContentFingerprint] = struct{}{}
		}
	}
	return fps, nil
}

func (s *VectorStore) DeleteStale(_ context.Context, sourcePath string, keep map[domain.Fingerprint]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.records {
		if e.record.SourcePath() != sourcePath {
			continue
		}
		if _, ok := keep[e.record.ContentFingerprint]; !ok {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *VectorStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *VectorStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]entry)
	s.dimension = 0
	return nil
}

// Records returns a snapshot of every stored record.
func (s *VectorStore) Records() []domain.ChunkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChunkRecord, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e.record)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Ledger is an in-memory ingestion ledger.
type Ledger struct {
	mu      sync.RWMutex
	records map[domain.Fingerprint]domain.IngestionRecord
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[domain.Fingerprint]domain.IngestionRecord)}
}

func (l *Ledger) HasSucceeded(_ context.Context, fp domain.Fingerprint) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[fp]
	return ok && rec.Status == domain.StatusSuccess, nil
}

func (l *Ledger) Begin(_ context.Context, fp domain.Fingerprint, sourcePath, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[fp] = domain.IngestionRecord{
		FileFingerprint: fp,
		SourcePath:      sourcePath,
		Status:          domain.StatusProcessing,
		ProcessedAt:     time.Now().UTC(),
		RunID:           runID,
	}
	return nil
}

func (l *Ledger) Complete(_ context.Context, fp domain.Fingerprint, status domain.Status, chunkCount int, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[fp]
	if !ok {
		rec.FileFingerprint = fp
	}
	rec.Status = status
	rec.ChunkCount = chunkCount
	rec.Error = errMsg
	rec.ProcessedAt = time.Now().UTC()
	l.records[fp] = rec
	return nil
}

func (l *Ledger) Get(_ context.Context, fp domain.Fingerprint) (domain.IngestionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[fp]
	if !ok {
		return domain.IngestionRecord{}, fmt.Errorf("ledger record %s: %w", fp, domain.ErrNotFound)
	}
	return rec, nil
}

func (l *Ledger) List(context.Context) ([]domain.IngestionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.IngestionRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
	return out, nil
}

func (l *Ledger) Clear(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[domain.Fingerprint]domain.IngestionRecord)
	return nil
}

var (
	_ port.VectorStore = (*VectorStore)(nil)
	_ port.Ledger      = (*Ledger)(nil)
)
