package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWalker_IncludesAndExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "README.md"), "readme")
	writeFile(t, filepath.Join(root, "docs", "guide.txt"), "guide")
	writeFile(t, filepath.Join(root, "docs", "image.png"), "png")
	writeFile(t, filepath.Join(root, "vendor", "lib.md"), "vendored")

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"vendor/**"})
	files, err := w.Walk(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"README.md", "docs/guide.txt"}, rel)
}

func TestWalker_DefaultIncludesEverything(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.bin"), "x")

	files, err := NewWalker(nil, nil).Walk(root)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestWalker_SkipsHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md"), "notes")
	writeFile(t, filepath.Join(root, ".rag", "config.yaml.md"), "state")
	writeFile(t, filepath.Join(root, ".git", "HEAD.txt"), "ref")

	files, err := NewWalker([]string{"**/*.md", "**/*.txt"}, nil).Walk(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.md", files[0].RelPath)
	assert.Equal(t, int64(len("notes")), files[0].Size)
}

func TestWalker_MissingRoot(t *testing.T) {
	_, err := NewWalker(nil, nil).Walk(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, domain.ErrReadError)
}

func TestWatcher_HandleEvent(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, NewWalker([]string{"**/*.md"}, nil), 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	md := filepath.Join(root, "note.md")
	writeFile(t, md, "hello")
	png := filepath.Join(root, "pic.png")
	writeFile(t, png, "x")
	hidden := filepath.Join(root, ".cache", "x.md")
	writeFile(t, hidden, "x")

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create markdown", fsnotify.Event{Name: md, Op: fsnotify.Create}, true},
		{"write markdown", fsnotify.Event{Name: md, Op: fsnotify.Write | fsnotify.Chmod}, true},
		{"chmod only", fsnotify.Event{Name: md, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: filepath.Join(root, "gone.md"), Op: fsnotify.Remove}, false},
		{"unmatched extension", fsnotify.Event{Name: png, Op: fsnotify.Write}, false},
		{"hidden directory", fsnotify.Event{Name: hidden, Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, ok := w.handleEvent(tt.ev)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.ev.Name, path)
			}
		})
	}
}

func TestWatcher_RunDebouncesWrites(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, NewWalker([]string{"**/*.txt"}, nil), 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []string, 1)
	go func() {
		_ = w.Run(ctx, func(paths []string) {
			select {
			case got <- paths:
			default:
			}
		})
	}()

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "one")
	writeFile(t, path, "two")

	select {
	case paths := <-got:
		assert.Equal(t, []string{path}, paths)
	case <-ctx.Done():
		t.Fatal("no change reported")
	}
}

func TestWatcher_QueuesWritesBeforeRun(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, NewWalker([]string{"**/*.txt"}, nil), 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	// written while the caller is still busy with its initial scan
	path := filepath.Join(root, "late.txt")
	writeFile(t, path, "written during catch-up")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan []string, 1)
	go func() {
		_ = w.Run(ctx, func(paths []string) {
			select {
			case got <- paths:
			default:
			}
		})
	}()

	select {
	case paths := <-got:
		assert.Equal(t, []string{path}, paths)
	case <-ctx.Done():
		t.Fatal("write before Run was not reported")
	}
}
