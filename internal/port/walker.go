package port

import "time"

// FileWalker lists candidate files below a root directory.
type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	RelPath string
	ModTime time.Time
	Size    int64
}
