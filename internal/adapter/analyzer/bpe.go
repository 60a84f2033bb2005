package analyzer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE vocabulary used by current OpenAI models.
const DefaultEncoding = "cl100k_base"

// BPECounter counts tokens with a real byte-pair encoding. Loading an
// encoding fetches its vocabulary on first use unless it is cached locally
// (see TIKTOKEN_CACHE_DIR).
type BPECounter struct {
	enc *tiktoken.Tiktoken
}

func NewBPECounter(encoding string) (*BPECounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &BPECounter{enc: enc}, nil
}

func (c *BPECounter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
