package fallback

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob/mem"
)

func TestFallback(t *testing.T) {
	var (
		ctx    = context.Background()
		local  = mem.New()
		remote = mem.New()
		s      = New(local, remote)
	)

	h, _, err := remote.Put(ctx, []byte("remote only"))
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Has(ctx, h); ok {
		t.Fatal("block unexpectedly present locally")
	}

	got, err := s.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "remote only" {
		t.Errorf("got %q", got)
	}
	if ok, _ := local.Has(ctx, h); !ok {
		t.Error("remote block was not cached locally")
	}

	h2, _, err := s.Put(ctx, []byte("local write"))
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := remote.Has(ctx, h2); ok {
		t.Error("write reached the remote store")
	}

	_, err = s.Get(ctx, notesync.HashOf([]byte("nowhere")))
	if !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
