package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"ragingest/internal/adapter/analyzer"
	"ragingest/internal/domain"
)

func newTestChunker() *RecursiveChunker {
	return NewRecursiveChunker(analyzer.NewTokenizer())
}

func testDoc(text string) domain.Document {
	return domain.Document{
		Text:       text,
		SourcePath: "/docs/book.txt",
		Title:      "book",
		DocType:    domain.DocTypeText,
	}
}

// sentences builds n unique single-line sentences of 8 tokens each.
func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about topic alpha. ", i)
	}
	return b.String()
}

func TestRecursiveChunkerEmptyDocument(t *testing.T) {
	chunks, err := newTestChunker().Split(testDoc(""), domain.ChunkOptions{Size: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}

	chunks, err = newTestChunker().Split(testDoc("  \n\n \n"), domain.ChunkOptions{Size: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for whitespace, got %d", len(chunks))
	}
}

func TestRecursiveChunkerInvalidConfig(t *testing.T) {
	cases := []domain.ChunkOptions{
		{Size: 100, Overlap: 100},
		{Size: 100, Overlap: 150},
		{Size: 0, Overlap: 0},
		{Size: 100, Overlap: -1},
	}
	for _, opts := range cases {
		_, err := newTestChunker().Split(testDoc("text"), opts)
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("opts %+v: expected ErrInvalidConfig, got %v", opts, err)
		}
	}
}

func TestRecursiveChunkerIndicesAndMetadata(t *testing.T) {
	chunks, err := newTestChunker().Split(testDoc(sentences(200)), domain.ChunkOptions{Size: 100, Overlap: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	tok := analyzer.NewTokenizer()
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.SourcePath != "/docs/book.txt" || c.Title != "book" {
			t.Errorf("chunk %d did not inherit document fields: %+v", i, c)
		}
		if c.Summary != "" {
			t.Errorf("chunk %d should have no summary", i)
		}
		if n := tok.CountTokens(c.Content); n > 100 {
			t.Errorf("chunk %d has %d tokens, limit is 100", i, n)
		}
		if c.Content != strings.TrimSpace(c.Content) {
			t.Errorf("chunk %d is not trimmed", i)
		}
	}
}

// sharedBoundary returns the longest prefix of next that is also a suffix of prev.
func sharedBoundary(prev, next string) string {
	for k := len(next); k > 0; k-- {
		if strings.HasSuffix(prev, next[:k]) {
			return next[:k]
		}
	}
	return ""
}

func TestRecursiveChunkerOverlap(t *testing.T) {
	tok := analyzer.NewTokenizer()
	chunks, err := newTestChunker().Split(testDoc(sentences(600)), domain.ChunkOptions{Size: 1000, Overlap: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		shared := sharedBoundary(chunks[i-1].Content, chunks[i].Content)
		if shared == "" {
			t.Fatalf("chunks %d and %d share no text", i-1, i)
		}
		// one sentence is 8 tokens, so the overlap snaps to within a sentence of 200
		n := tok.CountTokens(shared)
		if n > 200 || n < 200-8 {
			t.Errorf("chunks %d and %d share %d tokens, expected about 200", i-1, i, n)
		}
	}
}

func TestRecursiveChunkerPrefersParagraphs(t *testing.T) {
	first := strings.TrimSpace(sentences(5))
	second := "Another paragraph with different words entirely."
	text := first + "\n\n" + second

	size := analyzer.NewTokenizer().CountTokens(first) + 2
	chunks, err := newTestChunker().Split(testDoc(text), domain.ChunkOptions{Size: size, Overlap: 0})
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != first || chunks[1].Content != second {
		t.Errorf("expected split at paragraph break, got %q and %q", chunks[0].Content, chunks[1].Content)
	}
}

func TestRecursiveChunkerNoOverlapCoversText(t *testing.T) {
	text := sentences(50)
	chunks, err := newTestChunker().Split(testDoc(text), domain.ChunkOptions{Size: 40, Overlap: 0})
	if err != nil {
		t.Fatal(err)
	}

	var parts []string
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	if got := strings.Join(parts, " "); got != strings.TrimSpace(text) {
		t.Errorf("chunks without overlap should reassemble the text")
	}
}

func TestRecursiveChunkerOversizedPiece(t *testing.T) {
	long := strings.Repeat("word ", 50)
	text := "short intro\n\n" + long

	opts := domain.ChunkOptions{Size: 10, Overlap: 2, Separators: []string{"\n\n"}}
	chunks, err := newTestChunker().Split(testDoc(text), opts)
	if err != nil {
		t.Fatalf("oversized pieces must not error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Content != strings.TrimSpace(long) {
		t.Errorf("expected the unsplittable paragraph as its own chunk")
	}
}

func TestRecursiveChunkerCharacterFallback(t *testing.T) {
	// 30 punctuation runes are 30 tokens with no word or sentence breaks
	text := strings.Repeat("!", 30)
	chunks, err := newTestChunker().Split(testDoc(text), domain.ChunkOptions{Size: 10, Overlap: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.Content != strings.Repeat("!", 10) {
			t.Errorf("unexpected chunk %q", c.Content)
		}
	}
}

func TestRecursiveChunkerDeterministic(t *testing.T) {
	doc := testDoc(sentences(300))
	opts := domain.ChunkOptions{Size: 500, Overlap: 100}

	a, err := newTestChunker().Split(doc, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newTestChunker().Split(doc, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("splitting the same document twice gave different chunks")
	}
}

func TestSplitKeepingSeparator(t *testing.T) {
	got := splitKeepingSeparator("a. b. c", ". ")
	want := []string{"a. ", "b. ", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}

	got = splitKeepingSeparator("héj", "")
	want = []string{"h", "é", "j"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}
