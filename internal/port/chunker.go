package port

import "ragingest/internal/domain"

type Chunker interface {
	Split(doc domain.Document, opts domain.ChunkOptions) ([]domain.Chunk, error)
}
