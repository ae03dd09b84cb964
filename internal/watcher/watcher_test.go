package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/archnodes/internal/watcher"
)

func start(t *testing.T, cfg watcher.Config) <-chan struct{} {
	t.Helper()
	w, err := watcher.New(cfg)
	require.NoError(t, err, "failed to create watcher")
	t.Cleanup(func() { _ = w.Stop() })

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")
	return onChange
}

func requireSignal(t *testing.T, onChange <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-onChange:
	case <-time.After(within):
		t.Fatal("expected notification but got timeout")
	}
}

func requireQuiet(t *testing.T, onChange <-chan struct{}, quiet time.Duration) {
	t.Helper()
	select {
	case <-onChange:
		t.Fatal("unexpected notification")
	case <-time.After(quiet):
	}
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "aws.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte("provider: aws"), 0o644))

	onChange := start(t, watcher.Config{Paths: []string{catalogPath}, DebounceDur: 50 * time.Millisecond})

	// Rapid writes coalesce into a single notification.
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(catalogPath, []byte(fmt.Sprintf("provider: aws # %d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	requireSignal(t, onChange, 500*time.Millisecond)
	requireQuiet(t, onChange, 100*time.Millisecond)
}

func TestWatcher_IgnoresSiblingsOfWatchedFile(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "aws.yaml")
	otherPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(catalogPath, []byte("provider: aws"), 0o644))
	require.NoError(t, os.WriteFile(otherPath, []byte("initial"), 0o644))

	onChange := start(t, watcher.Config{Paths: []string{catalogPath}, DebounceDur: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(otherPath, []byte("other content"), 0o644))
	requireQuiet(t, onChange, 150*time.Millisecond)
}

func TestWatcher_DirectoryTreeFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	awsDir := filepath.Join(root, "diagrams", "aws")
	require.NoError(t, os.MkdirAll(awsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(awsDir, "compute.py"), []byte("class EC2: pass\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(awsDir, "README"), []byte("x"), 0o644))

	onChange := start(t, watcher.Config{
		Paths:       []string{root},
		Extensions:  []string{".py"},
		DebounceDur: 50 * time.Millisecond,
	})

	require.NoError(t, os.WriteFile(filepath.Join(awsDir, "README"), []byte("y"), 0o644))
	requireQuiet(t, onChange, 150*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(awsDir, "compute.py"), []byte("class EC2: pass\nclass Lambda: pass\n"), 0o644))
	requireSignal(t, onChange, 500*time.Millisecond)
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	onChange := start(t, watcher.Config{
		Paths:       []string{root},
		Extensions:  []string{".py"},
		DebounceDur: 50 * time.Millisecond,
	})

	gcpDir := filepath.Join(root, "gcp")
	require.NoError(t, os.Mkdir(gcpDir, 0o755))
	time.Sleep(50 * time.Millisecond)
	// Drain anything the mkdir itself may have produced.
	select {
	case <-onChange:
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(gcpDir, "compute.py"), []byte("class GCE: pass\n"), 0o644))
	requireSignal(t, onChange, 500*time.Millisecond)
}

func TestWatcher_RemovalTriggers(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: gcp"), 0o644))

	onChange := start(t, watcher.Config{Paths: []string{root}, DebounceDur: 20 * time.Millisecond})

	require.NoError(t, os.Remove(path))
	requireSignal(t, onChange, 500*time.Millisecond)
}

func TestWatcher_MissingPath(t *testing.T) {
	_, err := watcher.New(watcher.Config{Paths: []string{filepath.Join(t.TempDir(), "missing.yaml")}})
	require.Error(t, err)
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()
	w, err := watcher.New(watcher.Config{Paths: []string{dir}, DebounceDur: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = w.Start()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Stop(), "Stop returned error")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out - possible deadlock")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/catalogs", "/site-packages/diagrams")

	assert.Equal(t, []string{"/catalogs", "/site-packages/diagrams"}, cfg.Paths)
	assert.Contains(t, cfg.Extensions, ".py")
	assert.Contains(t, cfg.Extensions, ".yaml")
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceDur)
}
