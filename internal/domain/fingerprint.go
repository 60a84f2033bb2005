package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Fingerprint is a SHA-256 digest used as a content-addressed identity.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFingerprint decodes a hex encoded fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	raw, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if len(raw) != len(f) {
		return f, fmt.Errorf("invalid fingerprint length %d", len(raw))
	}
	copy(f[:], raw)
	return f, nil
}

// FingerprintBytes hashes raw file bytes.
func FingerprintBytes(data []byte) Fingerprint {
	return sha256.Sum256(data)
}

// ContentFingerprint hashes the chunk content together with the metadata
// fields that affect retrieval. The chunk index is not part of the hash.
func ContentFingerprint(c Chunk) Fingerprint {
	meta := map[string]*string{
		"source_path": nullable(c.SourcePath),
		"title":       nullable(c.Title),
		"summary":     nullable(c.Summary),
	}
	// map keys are marshaled in sorted order
	encoded, _ := json.Marshal(meta)

	h := sha256.New()
	h.Write([]byte(c.Content))
	h.Write([]byte("|"))
	h.Write(encoded)

	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// ChunkID derives the deterministic record id for a chunk.
func ChunkID(sourcePath string, chunkIndex int, contentFP Fingerprint) string {
	sum := sha256.Sum256([]byte(sourcePath + "|" + strconv.Itoa(chunkIndex) + "|" + contentFP.String()))
	return hex.EncodeToString(sum[:])
}

// NewChunkRecord builds the record for a chunk without an embedding.
func NewChunkRecord(c Chunk) ChunkRecord {
	fp := ContentFingerprint(c)
	meta := map[string]string{
		MetaSourcePath: c.SourcePath,
		MetaChunkIndex: strconv.Itoa(c.ChunkIndex),
	}
	if c.Title != "" {
		meta[MetaTitle] = c.Title
	}
	if c.Summary != "" {
		meta[MetaSummary] = c.Summary
	}
	return ChunkRecord{
		ID:                 ChunkID(c.SourcePath, c.ChunkIndex, fp),
		Content:            c.Content,
		Metadata:           meta,
		ContentFingerprint: fp,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
