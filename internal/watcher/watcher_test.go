package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testDebounce = 100 * time.Millisecond

// batchRecorder collects handled batches.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *batchRecorder) handle(_ context.Context, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), paths...))
	return r.err
}

func (r *batchRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func (r *batchRecorder) all() []string {
	var out []string
	for _, b := range r.snapshot() {
		out = append(out, b...)
	}
	return out
}

func startWatcher(t *testing.T, roots []string, exts []string, recursive bool, rec *batchRecorder, opts ...WatcherOption) *Watcher {
	t.Helper()
	opts = append([]WatcherOption{WithDebounce(testDebounce)}, opts...)
	w := NewWatcher(roots, exts, recursive, rec.handle, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &batchRecorder{}
	w := startWatcher(t, nil, []string{".txt"}, true, rec)

	require.NoError(t, w.AddDirectory(dir, false))
	dirs := w.Directories()
	require.Len(t, dirs, 1)
	assert.Equal(t, filepath.Clean(dir), filepath.Clean(dirs[0]))

	// adding twice is a no-op
	require.NoError(t, w.AddDirectory(dir, false))
	assert.Len(t, w.Directories(), 1)

	require.NoError(t, w.RemoveDirectory(dir))
	assert.Empty(t, w.Directories())
}

func TestWatcher_BurstBecomesOneSortedBatch(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, mkdirAll(sub))

	rec := &batchRecorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, true, rec)

	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		require.NoError(t, writeFile(filepath.Join(sub, name), "hello"))
		time.Sleep(testDebounce / 4)
	}
	// repeated writes to one file collapse into one entry
	require.NoError(t, writeFile(filepath.Join(sub, "a.txt"), "hello again"))
	require.NoError(t, writeFile(filepath.Join(sub, "ignored.pdf"), "%PDF"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(2 * testDebounce)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{
		filepath.Join(sub, "a.txt"),
		filepath.Join(sub, "b.txt"),
		filepath.Join(sub, "c.txt"),
	}, batches[0])
}

func TestWatcher_RemovalIsReported(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "gone.txt")
	require.NoError(t, writeFile(f, "bye"))

	rec := &batchRecorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, true, rec)

	require.NoError(t, os.Remove(f))
	require.Eventually(t, func() bool { return contains(rec.all(), f) }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_HandlerErrorIsLoggedAndDropped(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.ErrorLevel)
	rec := &batchRecorder{err: errors.New("update failed")}
	startWatcher(t, []string{dir}, nil, true, rec, WithLogger(zap.New(core)))

	require.NoError(t, writeFile(filepath.Join(dir, "one.txt"), "1"))
	require.Eventually(t, func() bool { return logs.FilterMessage("watcher batch failed").Len() == 1 }, 3*time.Second, 20*time.Millisecond)

	// the failed batch is not retried; the next change arrives on its own
	require.NoError(t, writeFile(filepath.Join(dir, "two.txt"), "2"))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{filepath.Join(dir, "two.txt")}, rec.snapshot()[1])
}

func TestWatcher_StopDiscardsPending(t *testing.T) {
	dir := t.TempDir()
	rec := &batchRecorder{}
	w := NewWatcher([]string{dir}, nil, true, rec.handle, WithDebounce(300*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, writeFile(filepath.Join(dir, "late.txt"), "x"))
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path string
		exts []string
		want bool
	}{
		{"a.txt", nil, true},
		{"a.txt", []string{".txt"}, true},
		{"a.TXT", []string{"txt"}, true},
		{"a.md", []string{".txt", ".md"}, true},
		{"a.pdf", []string{".txt"}, false},
		{"noext", []string{".txt"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchExtension(tt.path, tt.exts), "%s %v", tt.path, tt.exts)
	}
}

func TestInDir(t *testing.T) {
	dir := filepath.Join(string(filepath.Separator), "corpus")
	assert.True(t, inDir(dir, filepath.Join(dir, "a.txt")))
	assert.True(t, inDir(dir, filepath.Join(dir, "sub", "a.txt")))
	assert.False(t, inDir(dir, filepath.Join(string(filepath.Separator), "other", "a.txt")))
	assert.False(t, inDir(dir, filepath.Join(string(filepath.Separator), "corpus2", "a.txt")))
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "a.txt"), "a"))
	require.NoError(t, writeFile(filepath.Join(dir, "b.md"), "b"))
	require.NoError(t, writeFile(filepath.Join(dir, "nested", "c.txt"), "c"))

	rec := &batchRecorder{}
	w := startWatcher(t, []string{dir}, []string{".txt"}, false, rec)
	w.SyncExistingFiles()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt")}, rec.snapshot()[0])
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	rec := &batchRecorder{}
	startWatcher(t, []string{root}, nil, true, rec)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWatcher_NewDirectoryEnqueuesItsFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &batchRecorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, true, rec)

	// build the tree elsewhere and move it in, so its files exist before the
	// directory event arrives
	staging := filepath.Join(t.TempDir(), "week1")
	require.NoError(t, writeFile(filepath.Join(staging, "lecture.txt"), "notes"))
	require.NoError(t, writeFile(filepath.Join(staging, "deep", "lab.txt"), "lab"))
	target := filepath.Join(dir, "week1")
	require.NoError(t, os.Rename(staging, target))

	want := []string{filepath.Join(target, "deep", "lab.txt"), filepath.Join(target, "lecture.txt")}
	require.Eventually(t, func() bool {
		got := rec.all()
		return contains(got, want[0]) && contains(got, want[1])
	}, 3*time.Second, 20*time.Millisecond)

	// the new subdirectory is watched too
	later := filepath.Join(target, "deep", "later.txt")
	require.NoError(t, writeFile(later, "more"))
	require.Eventually(t, func() bool { return contains(rec.all(), later) }, 3*time.Second, 20*time.Millisecond)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
