package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupFileStore opens a FileStore in a temporary directory.
func setupFileStore(t *testing.T) *FileStore {
	t.Helper()

	fs, err := OpenFileStore(t.TempDir(), testLogger)
	if err != nil {
		t.Fatalf("OpenFileStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

// waitForWatchCount polls until fs has want open watches.
func waitForWatchCount(t *testing.T, fs *FileStore, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fs.WatchCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("WatchCount() = %d, want %d", fs.WatchCount(), want)
}

// TestFileStore_WatchReleasedWithContext verifies that ending a watch's
// context removes it from the store, so repeated watches do not accumulate.
func TestFileStore_WatchReleasedWithContext(t *testing.T) {
	fs := setupFileStore(t)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		changes, err := fs.Watch(ctx, "inventory/version")
		if err != nil {
			t.Fatalf("Watch() failed: %v", err)
		}
		if fs.WatchCount() != 1 {
			t.Errorf("WatchCount() = %d while watching, want 1", fs.WatchCount())
		}

		cancel()
		for range changes {
		}
		waitForWatchCount(t, fs, 0)
	}
}

// TestFileStore_IgnoresTempFiles verifies that a write in progress is not
// reported as a change of the key.
func TestFileStore_IgnoresTempFiles(t *testing.T) {
	fs := setupFileStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := fs.Watch(ctx, "inventory/version")
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	stray := filepath.Join(fs.Dir(), tempPrefix+fileName("inventory/version"))
	if err := os.WriteFile(stray, []byte("9999"), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	select {
	case c := <-changes:
		t.Fatalf("Unexpected change for temp file: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}

	if err := fs.Put(ctx, Entry{Key: "inventory/version", Value: []byte("1000")}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	select {
	case c := <-changes:
		if string(c.Value) != "1000" {
			t.Errorf("Change value = %q, want %q", c.Value, "1000")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for change")
	}
}
