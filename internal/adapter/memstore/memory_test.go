package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/internal/domain"
)

func rec(source string, index int, content string, vec ...float32) domain.ChunkRecord {
	r := domain.NewChunkRecord(domain.Chunk{Content: content, ChunkIndex: index, SourcePath: source})
	r.Embedding = vec
	return r
}

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	s := NewVectorStore()

	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{
		rec("a", 0, "one", 1, 0),
		rec("a", 1, "two", 1, 0),
		rec("b", 0, "three", 0, 1),
	}))

	results, err := s.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "one", results[0].Record.Content)
	assert.Equal(t, "two", results[1].Record.Content)

	_, err = s.Search(ctx, []float32{1, 0}, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidTopK)

	err = s.Upsert(ctx, []domain.ChunkRecord{rec("a", 2, "x", 1, 0, 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	fps, err := s.ExistingFingerprints(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, fps, 2)

	removed, err := s.DeleteStale(ctx, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Len(t, s.Records(), 1)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	fp := domain.FingerprintBytes([]byte("x"))

	_, err := l.Get(ctx, fp)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, l.Begin(ctx, fp, "x.txt", "run"))
	ok, err := l.HasSucceeded(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Complete(ctx, fp, domain.StatusSuccess, 3, ""))
	ok, err = l.HasSucceeded(ctx, fp)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := l.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "x.txt", got.SourcePath)
	assert.Equal(t, 3, got.ChunkCount)
}
