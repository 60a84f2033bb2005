package domain

import (
	"strconv"
	"time"
)

type DocType string

const (
	DocTypeText     DocType = "text"
	DocTypeMarkdown DocType = "markdown"
)

// Document is the loaded form of a single source file.
type Document struct {
	Text        string
	SourcePath  string
	Title       string
	DocType     DocType
	Fingerprint Fingerprint
}

// Chunk is one overlapping slice of a document. Empty Title and Summary
// mean the value is absent.
type Chunk struct {
	Content    string
	ChunkIndex int
	SourcePath string
	Title      string
	Summary    string
}

// ChunkMetadata is the semantic metadata a refiner extracts from a chunk.
type ChunkMetadata struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func (m ChunkMetadata) IsEmpty() bool {
	return m.Title == "" && m.Summary == ""
}

// ChunkOptions controls how a document is split.
type ChunkOptions struct {
	Size       int
	Overlap    int
	Separators []string
}

// DefaultSeparators go from coarsest to finest: paragraph, line, sentence,
// word and finally single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ChunkRecord is what the index persists for each chunk.
type ChunkRecord struct {
	ID                 string            `json:"id"`
	Content            string            `json:"content"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Embedding          []float32         `json:"embedding,omitempty"`
	ContentFingerprint Fingerprint       `json:"content_fingerprint"`
}

// Metadata keys stored with every ChunkRecord.
const (
	MetaSourcePath = "source_path"
	MetaChunkIndex = "chunk_index"
	MetaTitle      = "title"
	MetaSummary    = "summary"
)

// SourcePath returns the source path recorded in the record metadata.
func (r ChunkRecord) SourcePath() string {
	return r.Metadata[MetaSourcePath]
}

// ChunkIndex returns the chunk position recorded in the metadata, or -1.
func (r ChunkRecord) ChunkIndex() int {
	idx, err := strconv.Atoi(r.Metadata[MetaChunkIndex])
	if err != nil {
		return -1
	}
	return idx
}

type ScoredRecord struct {
	Record ChunkRecord `json:"record"`
	Score  float64     `json:"score"`
}

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// IngestionRecord is the ledger entry for one file fingerprint.
type IngestionRecord struct {
	FileFingerprint Fingerprint `json:"file_fingerprint"`
	SourcePath      string      `json:"source_path"`
	Status          Status      `json:"status"`
	ProcessedAt     time.Time   `json:"processed_at"`
	ChunkCount      int         `json:"chunk_count"`
	RunID           string      `json:"run_id,omitempty"`
	Error           string      `json:"error,omitempty"`
}
