package pager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"pgregory.net/rapid"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob/mem"
	"github.com/bobg/notesync/mfs"
	"github.com/bobg/notesync/objectid"
	"github.com/bobg/notesync/testutil"
)

const root = "/kacct/objects"

// fataler is satisfied by both *testing.T and *rapid.T.
type fataler interface {
	Fatal(args ...any)
}

func newTree(ctx context.Context, t fataler, ids []objectid.ID) *mfs.FS {
	fs, err := mfs.New(ctx, mem.New(), &mfs.MemRoot{})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		p := notesync.JoinPath(id.Path(root, time.UTC), notesync.MtimeFile)
		if err := fs.Write(ctx, p, strings.NewReader("1"), notesync.WriteOptions{Create: true, Parents: true}); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func sortIDs(ids []objectid.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

func TestPaginationLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()

		// Thirteen-digit timestamps spanning several centuries of buckets.
		stamps := rapid.SliceOfNDistinct(rapid.Int64Range(1_000_000_000_000, 9_999_999_999_999), 1, 25, rapid.ID[int64]).Draw(t, "stamps")
		var ids []objectid.ID
		for _, ms := range stamps {
			nonce := rapid.StringMatching(`[0-9A-Z]{5}`).Draw(t, "nonce")
			id, err := objectid.New(time.UnixMilli(ms), nonce)
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, id)
		}
		sortIDs(ids)

		fs := newTree(ctx, t, ids)
		p := New(fs, root, time.UTC)

		var (
			n = len(ids)
			k = rapid.IntRange(0, n-1).Draw(t, "k")
			m = rapid.IntRange(1, n+2).Draw(t, "m")
		)

		got, err := p.Objects(ctx, Query{After: &ids[k], Limit: m})
		if err != nil {
			t.Fatal(err)
		}
		want := ids[k+1 : min(n, k+1+m)]
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("after %s limit %d: mismatch (-want +got):\n%s", ids[k], m, diff)
		}

		got, err = p.Objects(ctx, Query{Before: &ids[k], Limit: m})
		if err != nil {
			t.Fatal(err)
		}
		want = ids[max(0, k-m):k]
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("before %s limit %d: mismatch (-want +got):\n%s", ids[k], m, diff)
		}

		got, err = p.Objects(ctx, Query{Limit: m})
		if err != nil {
			t.Fatal(err)
		}
		want = ids[max(0, n-m):]
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("latest %d: mismatch (-want +got):\n%s", m, diff)
		}
	})
}

func TestBoundaryNotInTree(t *testing.T) {
	ctx := context.Background()
	var ids []objectid.ID
	for _, s := range []string{"1700000000000-AAAAA", "1700000100000-AAAAA", "1800000000000-AAAAA"} {
		id, err := objectid.Parse(s)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	p := New(newTree(ctx, t, ids), root, time.UTC)

	// A boundary in the same day bucket as existing ids, but absent itself.
	b, err := objectid.Parse("1700000050000-ZZZZZ")
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Objects(ctx, Query{After: &b, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ids[1:], got); diff != "" {
		t.Errorf("after: mismatch (-want +got):\n%s", diff)
	}
	got, err = p.Objects(ctx, Query{Before: &b, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ids[:1], got); diff != "" {
		t.Errorf("before: mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidQuery(t *testing.T) {
	ctx := context.Background()
	p := New(newTree(ctx, t, nil), root, time.UTC)
	id := objectid.Create()
	_, err := p.Objects(ctx, Query{Before: &id, After: &id})
	if !errors.Is(err, notesync.ErrInvalidQuery) {
		t.Errorf("got %v, want ErrInvalidQuery", err)
	}
}

func TestEmpty(t *testing.T) {
	ctx := context.Background()
	p := New(newTree(ctx, t, nil), root, time.UTC)
	got, err := p.Objects(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v from an empty tree", got)
	}
}

func TestDefaultLimitAndJunk(t *testing.T) {
	ctx := context.Background()
	var ids []objectid.ID
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultLimit+5; i++ {
		id, err := objectid.New(base.Add(time.Duration(i)*13*time.Hour), "ABCDE")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	fs := newTree(ctx, t, ids)
	testutil.WriteFile(ctx, t, fs, root+"/README", "not a bucket")
	testutil.WriteFile(ctx, t, fs, root+"/2023/1/05/x", "bad month")
	testutil.WriteFile(ctx, t, fs, root+"/2023/01/01/not-an-id/x", "bad id")

	got, err := New(fs, root, time.UTC).Objects(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ids[5:], got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

type countingStore struct {
	notesync.Store
	mu  sync.Mutex
	lss int
}

func (s *countingStore) Ls(ctx context.Context, path string) ([]notesync.Entry, error) {
	s.mu.Lock()
	s.lss++
	s.mu.Unlock()
	return s.Store.Ls(ctx, path)
}

func TestLazy(t *testing.T) {
	ctx := context.Background()
	var ids []objectid.ID
	for year := 2000; year < 2020; year++ {
		id, err := objectid.New(time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC), "ABCDE")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	cs := &countingStore{Store: newTree(ctx, t, ids)}
	got, err := New(cs, root, time.UTC).Objects(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ids[len(ids)-1:], got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if cs.lss != 4 {
		t.Errorf("got %d listings, want 4", cs.lss)
	}
}
