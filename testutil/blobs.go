// Package testutil holds helpers shared by the tests of this module's packages.
package testutil

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

// ListStore is a block store that can enumerate its blocks.
type ListStore interface {
	blob.Store
	blob.Lister
}

// ReadWrite writes random blocks to store,
// reads them back to make sure they're the same,
// and checks the added flag and not-found behavior.
func ReadWrite(ctx context.Context, t *testing.T, store blob.Store) {
	f := func(data []byte) bool {
		h, _, err := store.Put(ctx, data)
		if err != nil {
			t.Logf("Put: %s", err)
			return false
		}
		if h != notesync.HashOf(data) {
			t.Logf("got hash %s, want %s", h, notesync.HashOf(data))
			return false
		}
		_, added, err := store.Put(ctx, data)
		if err != nil {
			t.Logf("second Put: %s", err)
			return false
		}
		if added {
			t.Logf("second Put of %s reported added", h)
			return false
		}
		got, err := store.Get(ctx, h)
		if err != nil {
			t.Logf("Get %s: %s", h, err)
			return false
		}
		if !bytes.Equal(got, data) {
			t.Logf("mismatch for %s", h)
			return false
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}

	missing := notesync.HashOf([]byte("testutil: this block was never stored"))
	if _, err := store.Get(ctx, missing); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("got %v for missing block, want ErrNotFound", err)
	}
	ok, err := blob.Has(ctx, store, missing)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Has reports a block that was never stored")
	}
}

// AllHashes writes a random set of random blocks to an empty store
// and makes sure that the right set of hashes comes back in a call to ListHashes.
func AllHashes(ctx context.Context, t *testing.T, storeFactory func() ListStore) {
	if err := quick.Check(allHashesHelper(ctx, t, storeFactory), nil); err != nil {
		t.Error(err)
	}
}

func allHashesHelper(ctx context.Context, t *testing.T, storeFactory func() ListStore) func([][]byte) bool {
	return func(blocks [][]byte) bool {
		var (
			store = storeFactory()
			want  []notesync.Hash
		)
		for _, b := range blocks {
			h, added, err := store.Put(ctx, b)
			if err != nil {
				t.Fatal(err)
			}
			if added {
				want = append(want, h)
			}
		}
		var got []notesync.Hash
		err := store.ListHashes(ctx, notesync.Zero, func(h notesync.Hash) error {
			got = append(got, h)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
		if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Less(got[j]) }) {
			t.Log("ListHashes produced hashes out of order")
			return false
		}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
}
