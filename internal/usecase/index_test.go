package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/internal/adapter/embedding"
	"ragingest/internal/adapter/memstore"
	"ragingest/internal/domain"
)

func seedIndex(t *testing.T, idx *Index, embedder *countingEmbedder, texts ...string) []domain.ChunkRecord {
	t.Helper()
	vectors, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)

	records := make([]domain.ChunkRecord, len(texts))
	for i, text := range texts {
		rec := domain.NewChunkRecord(domain.Chunk{Content: text, ChunkIndex: i, SourcePath: "seed.txt"})
		rec.Embedding = vectors[i]
		records[i] = rec
	}
	require.NoError(t, idx.Upsert(context.Background(), records))
	return records
}

func TestIndex_IdenticalTextRanksFirst(t *testing.T) {
	ctx := context.Background()
	embedder := newCountingEmbedder(512)
	idx := NewIndex(embedder, memstore.NewVectorStore(), fastPolicy())
	records := seedIndex(t, idx, embedder,
		"the tide table for the northern harbor",
		"a recipe for smoked mackerel with dill",
		"notes on repairing a wooden rowing boat")

	results, err := idx.SimilaritySearch(ctx, "a recipe for smoked mackerel with dill", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, records[1].ID, results[0].Record.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestIndex_TopK(t *testing.T) {
	ctx := context.Background()
	embedder := newCountingEmbedder(512)
	idx := NewIndex(embedder, memstore.NewVectorStore(), fastPolicy())
	seedIndex(t, idx, embedder, "one", "two", "three")
	before := embedder.embeddedTexts()

	for _, k := range []int{0, -1} {
		_, err := idx.SimilaritySearch(ctx, "one", k)
		assert.ErrorIs(t, err, domain.ErrInvalidTopK)
	}
	assert.Equal(t, before, embedder.embeddedTexts(), "invalid top_k must not embed the query")

	results, err := idx.SimilaritySearch(ctx, "one", 50)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = idx.SimilaritySearch(ctx, "one", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndex_EmptyIndex(t *testing.T) {
	idx := NewIndex(embedding.NewMockEmbedder(64), memstore.NewVectorStore(), fastPolicy())
	results, err := idx.SimilaritySearch(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewVectorStore()
	wide := newCountingEmbedder(512)
	seedIndex(t, NewIndex(wide, store, fastPolicy()), wide, "stored with a wide model")

	narrow := NewIndex(embedding.NewMockEmbedder(128), store, fastPolicy())
	_, err := narrow.SimilaritySearch(ctx, "queried with a narrow model", 3)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

// chapter builds a chapter of newline separated lines whose words are unique
// to the chapter and line.
func chapter(n, lines int, extra map[int]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d\n\n", n)
	for i := range lines {
		if line, ok := extra[i]; ok {
			b.WriteString(line)
			b.WriteString("\n")
			continue
		}
		words := make([]string, 10)
		for w := range words {
			words[w] = fmt.Sprintf("c%dl%dw%d", n, i, w)
		}
		b.WriteString(strings.Join(words, " "))
		b.WriteString("\n")
		if i%5 == 4 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func TestPipeline_ThreeChapterDocument(t *testing.T) {
	ctx := context.Background()
	const needle = "Seventeen silver herons circled above Marrow lighthouse."

	text := chapter(1, 80, nil) + "\n" +
		chapter(2, 80, map[int]string{40: needle}) + "\n" +
		chapter(3, 80, nil)

	h := newHarness(t, withChunking(500, 100), withDimension(4096), withBatchSize(4))
	path := writeFile(t, t.TempDir(), "novel.txt", text)

	summary, err := h.pipeline.IngestPath(ctx, path, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Ingested)

	// chunking is deterministic
	doc := domain.Document{Text: text, SourcePath: path, Title: "novel"}
	first, err := h.chunker.Split(doc, domain.ChunkOptions{Size: 500, Overlap: 100})
	require.NoError(t, err)
	again, err := h.chunker.Split(doc, domain.ChunkOptions{Size: 500, Overlap: 100})
	require.NoError(t, err)
	require.Equal(t, first, again)
	n := len(first)
	require.GreaterOrEqual(t, n, 5)

	assert.Equal(t, n, summary.Files[0].Chunks)
	count, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, count)

	rec, err := h.ledger.Get(ctx, summary.Files[0].Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, rec.Status)
	assert.Equal(t, n, rec.ChunkCount)

	results, err := h.index().SimilaritySearch(ctx, needle, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	found := false
	for _, r := range results {
		if strings.Contains(r.Record.Content, needle) {
			found = true
			assert.Equal(t, path, r.Record.SourcePath())
		}
	}
	assert.True(t, found, "chunk holding the chapter 2 sentence should rank in the top 3")
}
