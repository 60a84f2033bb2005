package analyzer

import (
	"os"
	"testing"
)

// The encoding is downloaded on first use, so the test only runs when a
// vocabulary cache is available.
func TestBPECounter(t *testing.T) {
	if os.Getenv("TIKTOKEN_CACHE_DIR") == "" {
		t.Skip("TIKTOKEN_CACHE_DIR not set")
	}

	c, err := NewBPECounter("")
	if err != nil {
		t.Fatalf("NewBPECounter: %v", err)
	}
	if got := c.CountTokens(""); got != 0 {
		t.Errorf("empty text: expected 0 tokens, got %d", got)
	}
	if got := c.CountTokens("hello world"); got != 2 {
		t.Errorf("expected 2 tokens, got %d", got)
	}
}

func TestBPECounter_UnknownEncoding(t *testing.T) {
	if _, err := NewBPECounter("no_such_encoding"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
