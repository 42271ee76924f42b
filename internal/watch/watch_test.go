package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string, debounce time.Duration) *Watcher {
	t.Helper()

	w, err := New(path, debounce, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w
}

func expectSignal(t *testing.T, w *Watcher, want Signal) {
	t.Helper()
	select {
	case got := <-w.Signals():
		require.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func expectQuiet(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case got := <-w.Signals():
		t.Fatalf("unexpected signal %s", got)
	case <-time.After(d):
	}
}

func TestBurstOfWritesProducesOneReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o600))

	w := startWatcher(t, path, 150*time.Millisecond)
	for i := range 10 {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o600))
		time.Sleep(5 * time.Millisecond)
	}

	expectSignal(t, w, Reload)
	expectQuiet(t, w, 400*time.Millisecond)
}

func TestRenameOverTargetIsDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	w := startWatcher(t, path, 50*time.Millisecond)

	tmp := filepath.Join(dir, ".config.toml.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o600))
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Rename(tmp, path))
	expectSignal(t, w, Reload)

	require.NoError(t, os.WriteFile(tmp, []byte("newer"), 0o600))
	require.NoError(t, os.Rename(tmp, path))
	expectSignal(t, w, Reload)
}

func TestUnrelatedFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	w := startWatcher(t, path, 50*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o600))
	expectQuiet(t, w, 300*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	expectSignal(t, w, Reload)
}

func TestNewFailsForMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent", "config.toml"), 0, nil)
	require.Error(t, err)
}

func TestRunClosesSignalsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	w, err := New(path, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop")
	}
	_, ok := <-w.Signals()
	require.False(t, ok)
}
