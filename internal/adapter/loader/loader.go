package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ragingest/internal/domain"
)

var supported = map[string]domain.DocType{
	".txt":      domain.DocTypeText,
	".md":       domain.DocTypeMarkdown,
	".markdown": domain.DocTypeMarkdown,
}

// DocTypeFor returns the document type for a path based on its extension.
func DocTypeFor(path string) (domain.DocType, bool) {
	t, ok := supported[strings.ToLower(filepath.Ext(path))]
	return t, ok
}

// IsSupported reports whether Load accepts the path's extension.
func IsSupported(path string) bool {
	_, ok := DocTypeFor(path)
	return ok
}

// Load reads a text or markdown file and fingerprints its raw bytes. The
// document text is the bytes decoded as UTF-8.
func Load(path string) (domain.Document, error) {
	docType, ok := DocTypeFor(path)
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return domain.Document{}, fmt.Errorf("%w: %s: %v", domain.ErrReadError, path, err)
	}

	base := filepath.Base(path)
	return domain.Document{
		// invalid UTF-8 becomes U+FFFD here so every store keeps the text
		// its content fingerprint was computed over
		Text:        strings.ToValidUTF8(string(data), "\uFFFD"),
		SourcePath:  path,
		Title:       strings.TrimSuffix(base, filepath.Ext(base)),
		DocType:     docType,
		Fingerprint: domain.FingerprintBytes(data),
	}, nil
}
