package chunker

import (
	"fmt"
	"strings"

	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// RecursiveChunker splits text on the coarsest separator that occurs in it,
// descends to finer separators for pieces that are still too large, and
// merges the pieces back into overlapping windows measured in tokens.
type RecursiveChunker struct {
	counter port.TokenCounter
}

func NewRecursiveChunker(counter port.TokenCounter) *RecursiveChunker {
	return &RecursiveChunker{counter: counter}
}

// Split cuts doc into chunks of at most opts.Size tokens where adjacent
// chunks share about opts.Overlap tokens. A piece that cannot be split any
// further is emitted on its own even if it is larger than opts.Size.
func (c *RecursiveChunker) Split(doc domain.Document, opts domain.ChunkOptions) ([]domain.Chunk, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	separators := opts.Separators
	if len(separators) == 0 {
		separators = domain.DefaultSeparators
	}

	texts := c.splitText(doc.Text, separators, opts.Size, opts.Overlap)

	chunks := make([]domain.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, domain.Chunk{
			Content:    text,
			ChunkIndex: i,
			SourcePath: doc.SourcePath,
			Title:      doc.Title,
		})
	}

	return chunks, nil
}

func validate(opts domain.ChunkOptions) error {
	if opts.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, opts.Size)
	}
	if opts.Overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrInvalidConfig, opts.Overlap)
	}
	if opts.Overlap >= opts.Size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", domain.ErrInvalidConfig, opts.Overlap, opts.Size)
	}
	return nil
}

func (c *RecursiveChunker) splitText(text string, separators []string, size, overlap int) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			finer = separators[i+1:]
			break
		}
	}

	var out, fitting []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if c.counter.CountTokens(piece) <= size {
			fitting = append(fitting, piece)
			continue
		}

		if len(fitting) > 0 {
			out = append(out, c.merge(fitting, size, overlap)...)
			fitting = nil
		}
		if len(finer) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				out = append(out, trimmed)
			}
			continue
		}
		out = append(out, c.splitText(piece, finer, size, overlap)...)
	}
	if len(fitting) > 0 {
		out = append(out, c.merge(fitting, size, overlap)...)
	}

	return out
}

// merge packs pieces into windows of at most size tokens. After a window is
// emitted, pieces are dropped from its front until no more than overlap
// tokens remain to seed the next window.
func (c *RecursiveChunker) merge(pieces []string, size, overlap int) []string {
	var out []string
	var window []string
	var lengths []int
	total := 0

	emit := func() {
		if text := strings.TrimSpace(strings.Join(window, "")); text != "" {
			out = append(out, text)
		}
	}

	for _, piece := range pieces {
		n := c.counter.CountTokens(piece)

		if total+n > size && len(window) > 0 {
			emit()
			for len(window) > 0 && (total > overlap || (total+n > size && total > 0)) {
				total -= lengths[0]
				window = window[1:]
				lengths = lengths[1:]
			}
		}

		window = append(window, piece)
		lengths = append(lengths, n)
		total += n
	}
	emit()

	return out
}

// splitKeepingSeparator splits text after every occurrence of separator so
// that concatenating the pieces gives back the text. An empty separator
// splits into single runes.
func splitKeepingSeparator(text, separator string) []string {
	if separator == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	pieces := strings.SplitAfter(text, separator)
	out := pieces[:0]
	for _, p := range pieces {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
