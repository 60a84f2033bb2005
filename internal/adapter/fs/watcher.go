package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports files under a root that were created or written, batching
// bursts of events into a single callback.
type Watcher struct {
	root     string
	walker   *Walker
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
}

func NewWatcher(root string, walker *Walker, debounce time.Duration) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		root:     root,
		walker:   walker,
		debounce: debounce,
		fsw:      fsw,
		logger:   slog.Default().With("component", "watcher"),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(w.root, path); err == nil && rel != "." {
			if w.walker.excluded(filepath.ToSlash(rel)+"/") || isHidden(rel) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is done, calling handle with the sorted set of changed
// paths once events have been quiet for the debounce interval.
func (w *Watcher) Run(ctx context.Context, handle func(paths []string)) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.handleEvent(ev); ok {
				pending[path] = struct{}{}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			handle(paths)
		}
	}
}

// handleEvent returns the file path an event refers to when it should trigger
// ingestion. New directories are added to the watch set.
func (w *Watcher) handleEvent(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return "", false
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || isHidden(rel) {
		return "", false
	}

	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "err", err)
			}
		}
		return "", false
	}

	if !w.walker.Match(rel) {
		return "", false
	}
	return ev.Name, true
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func isHidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
