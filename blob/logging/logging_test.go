package logging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/blob/mem"
	"github.com/bobg/notesync/testutil"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Printf(format string, args ...interface{}) {
	r.mu.Lock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	rec := new(recorder)
	s := NewWithLogger(mem.New(), rec)

	testutil.ReadWrite(ctx, t, s)

	rec.lines = nil
	h, _, err := s.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = s.Get(ctx, notesync.HashOf([]byte("absent"))); !notesync.IsNotFound(err) {
		t.Errorf("got %v, want not found", err)
	}

	if len(rec.lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(rec.lines))
	}
	if !strings.Contains(rec.lines[0], h.String()) {
		t.Errorf("put line %q lacks hash", rec.lines[0])
	}
	if !strings.HasPrefix(rec.lines[1], "ERROR Get") {
		t.Errorf("got %q, want an ERROR Get line", rec.lines[1])
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	s, err := blob.Create(ctx, "logging", map[string]interface{}{
		"nested": map[string]interface{}{"type": "mem"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Store); !ok {
		t.Errorf("got %T, want *Store", s)
	}
	if _, err = blob.Create(ctx, "logging", nil); err == nil {
		t.Error("created a logging store with no nested store")
	}
}
