// Package testutil provides shared test helpers for setting up memory stores.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/memtree/internal/memstore"
	"github.com/starford/memtree/internal/storage"
)

// MemoryFile is the snapshot name used by TestStore.
const MemoryFile = "memories.json"

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDir creates a temporary directory with a file system provider.
func TestDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// TestStore opens a fresh store backed by a temporary directory.
func TestStore(t *testing.T, opts ...memstore.Option) (*memstore.Store, *storage.FS) {
	t.Helper()
	_, fs := TestDir(t)
	opts = append([]memstore.Option{memstore.WithLogger(DiscardLogger())}, opts...)
	s, err := memstore.Open(context.Background(), fs, MemoryFile, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s, fs
}

// Seed adds a memory at each position in order, creating parents first when
// they are listed first. It fails the test on the first error.
func Seed(t *testing.T, s *memstore.Store, positions ...[]string) {
	t.Helper()
	for _, p := range positions {
		if len(p) == 0 {
			t.Fatal("testutil: cannot seed the root")
		}
		if _, err := s.Add(context.Background(), p[:len(p)-1], p[len(p)-1], nil, nil, "user"); err != nil {
			t.Fatalf("seed %v: %v", p, err)
		}
	}
}
