package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/anchor"
)

// Anchors exercises an anchor.Store.
func Anchors(ctx context.Context, t *testing.T, store anchor.Store) {
	var (
		a1 = "kanchor1"
		a2 = "kanchor2"
		a3 = "kanchor3"

		h1a = notesync.Hash{0x1a}
		h1b = notesync.Hash{0x1b}
		h2  = notesync.Hash{0x2}

		t1 = time.Date(1977, 8, 5, 12, 0, 0, 0, time.FixedZone("UTC-4", -4*60*60))
		t2 = t1.Add(time.Hour)
	)

	// Out of order on purpose: the latest by timestamp wins, not the latest written.
	if err := store.PutAnchor(ctx, a1, h1b, t2); err != nil {
		t.Fatal(err)
	}
	if err := store.PutAnchor(ctx, a1, h1a, t1); err != nil {
		t.Fatal(err)
	}
	if err := store.PutAnchor(ctx, a2, h2, t1); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		want    notesync.Hash
		wantAt  time.Time
		wantErr error
	}{
		{name: a1, want: h1b, wantAt: t2},
		{name: a2, want: h2, wantAt: t1},
		{name: a3, wantErr: notesync.ErrNotFound},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, at, err := store.GetAnchor(ctx, c.name)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("got error %v, want %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("got %s, want %s", got, c.want)
			}
			if !at.Equal(c.wantAt) {
				t.Errorf("got time %s, want %s", at, c.wantAt)
			}
		})
	}

	if _, err := store.GetVerifier(ctx, a1); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("got %v for missing verifier, want ErrNotFound", err)
	}
	if err := store.PutVerifier(ctx, a1, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := store.PutVerifier(ctx, a1, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	v, err := store.GetVerifier(ctx, a1)
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v2" {
		t.Errorf("got verifier %q, want v2", v)
	}

	if l, ok := store.(anchor.Lister); ok {
		var names []string
		err := l.ListAnchors(ctx, "", func(name string, h notesync.Hash, _ time.Time) error {
			names = append(names, name)
			if name == a1 && h != h1b {
				t.Errorf("ListAnchors: got %s for %s, want %s", h, a1, h1b)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 2 || names[0] != a1 || names[1] != a2 {
			t.Errorf("ListAnchors: got %v, want [%s %s]", names, a1, a2)
		}
	}
}
