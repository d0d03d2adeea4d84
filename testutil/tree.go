package testutil

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/bobg/notesync"
)

// WriteFile writes data to path in s, creating parent directories.
func WriteFile(ctx context.Context, t *testing.T, s notesync.Store, path, data string) {
	t.Helper()
	err := s.Write(ctx, path, strings.NewReader(data), notesync.WriteOptions{Create: true, Truncate: true, Parents: true})
	if err != nil {
		t.Fatalf("writing %s: %s", path, err)
	}
}

// ReadFile reads the file at path in s.
func ReadFile(ctx context.Context, t *testing.T, s notesync.Store, path string) string {
	t.Helper()
	r, err := s.Read(ctx, path)
	if err != nil {
		t.Fatalf("reading %s: %s", path, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading %s: %s", path, err)
	}
	return string(b)
}

// Exists tells whether path exists in s.
func Exists(ctx context.Context, t *testing.T, s notesync.Store, path string) bool {
	t.Helper()
	_, err := s.Stat(ctx, path)
	if notesync.IsNotFound(err) {
		return false
	}
	if err != nil {
		t.Fatalf("stat %s: %s", path, err)
	}
	return true
}

// HashOf returns the hash of the entry at path in s.
func HashOf(ctx context.Context, t *testing.T, s notesync.Store, path string) notesync.Hash {
	t.Helper()
	e, err := s.Stat(ctx, path)
	if err != nil {
		t.Fatalf("stat %s: %s", path, err)
	}
	return e.Hash
}
