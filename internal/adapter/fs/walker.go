package fs

import (
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"ragingest/internal/domain"
	"ragingest/internal/port"
)

// Walker finds files under a root that match include globs and none of the
// exclude globs. Patterns are matched against slash separated paths relative
// to the root. Hidden directories such as .rag and .git are never entered.
type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk returns the matching files in lexical order with absolute paths.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []port.FileInfo
	err = filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrReadError, path, err)
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath == "." {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || w.excluded(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !w.Match(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrReadError, path, err)
		}
		files = append(files, port.FileInfo{
			Path:    path,
			RelPath: relPath,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// Match reports whether a root-relative path is selected by the walker.
func (w *Walker) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	return w.included(relPath) && !w.excluded(relPath)
}

func (w *Walker) included(path string) bool {
	return matchAny(w.includes, path)
}

func (w *Walker) excluded(path string) bool {
	return matchAny(w.excludes, path)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}
