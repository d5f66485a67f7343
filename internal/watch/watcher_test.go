package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	w, err := New(opts, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	require.NoError(t, w.Start(ctx))
	return w
}

func waitChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case c := <-w.Changes():
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
		return Change{}
	}
}

func assertQuiet(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case c := <-w.Changes():
		t.Fatalf("unexpected change: %v", c.Paths)
	case <-time.After(d):
	}
}

func TestWatcher_FileIsDebounced(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "pages.json")
	require.NoError(t, os.WriteFile(export, []byte("[]"), 0o600))

	w := startWatcher(t, Options{Paths: []string{export}})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(export, []byte(`[{"id":"a"}]`), 0o600))
	}
	c := waitChange(t, w)
	assert.Equal(t, []string{export}, c.Paths)
	assertQuiet(t, w, 200*time.Millisecond)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "pages.json")
	require.NoError(t, os.WriteFile(export, []byte("[]"), 0o600))

	w := startWatcher(t, Options{Paths: []string{export}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	assertQuiet(t, w, 200*time.Millisecond)
}

func TestWatcher_DirectoryTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "core"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	w := startWatcher(t, Options{
		Paths:   []string{root},
		SkipDir: func(p string) bool { return filepath.Base(p) == ".git" },
	})

	nested := filepath.Join(root, "pkg", "core", "main.go")
	require.NoError(t, os.WriteFile(nested, []byte("package core"), 0o600))
	c := waitChange(t, w)
	assert.Contains(t, c.Paths, nested)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o600))
	assertQuiet(t, w, 200*time.Millisecond)
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, Options{Paths: []string{root}})

	sub := filepath.Join(root, "docs")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitChange(t, w)

	file := filepath.Join(sub, "guide.md")
	require.NoError(t, os.WriteFile(file, []byte("# Guide"), 0o600))
	c := waitChange(t, w)
	assert.Contains(t, c.Paths, file)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.Error(t, err)

	_, err = New(Options{Paths: []string{filepath.Join(t.TempDir(), "missing.json")}}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(Options{Paths: []string{t.TempDir()}}, nil)
	require.NoError(t, err)
	w.Stop()
	assert.NotPanics(t, w.Stop)
}
