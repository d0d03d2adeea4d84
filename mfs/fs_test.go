package mfs

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob/mem"
	"github.com/bobg/notesync/testutil"
)

func newTestFS(ctx context.Context, t *testing.T) *FS {
	fs, err := New(ctx, mem.New(), &MemRoot{})
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(ctx, t)

	testutil.WriteFile(ctx, t, fs, "/a/b/c.txt", "hello")
	if got := testutil.ReadFile(ctx, t, fs, "/a/b/c.txt"); got != "hello" {
		t.Errorf("got %q, want hello", got)
	}

	e, err := fs.Stat(ctx, "/a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "c.txt" || e.IsDir() || e.Size != 5 {
		t.Errorf("got %+v", e)
	}

	e, err = fs.Stat(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsDir() || e.Size != 5 {
		t.Errorf("got %+v", e)
	}

	// Overwrite without truncating keeps the tail.
	err = fs.Write(ctx, "/a/b/c.txt", strings.NewReader("J"), notesync.WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ReadFile(ctx, t, fs, "/a/b/c.txt"); got != "Jello" {
		t.Errorf("got %q, want Jello", got)
	}

	err = fs.Write(ctx, "/a/b/c.txt", strings.NewReader("J"), notesync.WriteOptions{Truncate: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ReadFile(ctx, t, fs, "/a/b/c.txt"); got != "J" {
		t.Errorf("got %q, want J", got)
	}
}

func TestWriteErrors(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(ctx, t)

	err := fs.Write(ctx, "/nope", strings.NewReader("x"), notesync.WriteOptions{})
	if !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("write without create: got %v, want ErrNotFound", err)
	}
	err = fs.Write(ctx, "/missing/parent", strings.NewReader("x"), notesync.WriteOptions{Create: true})
	if !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("write without parents: got %v, want ErrNotFound", err)
	}

	testutil.WriteFile(ctx, t, fs, "/f", "x")
	h, err := fs.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = fs.Write(ctx, notesync.ResolvePath(h, "f"), strings.NewReader("y"), notesync.WriteOptions{Create: true})
	if !errors.Is(err, notesync.ErrReadOnly) {
		t.Errorf("write to resolve view: got %v, want ErrReadOnly", err)
	}
	h2, err := fs.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h {
		t.Error("failed write changed the root")
	}
}

func TestLargeFile(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(ctx, t)

	data := make([]byte, 512*1024)
	rand.New(rand.NewSource(1)).Read(data)

	err := fs.Write(ctx, "/big", bytes.NewReader(data), notesync.WriteOptions{Create: true})
	if err != nil {
		t.Fatal(err)
	}

	e, err := fs.Stat(ctx, "/big")
	if err != nil {
		t.Fatal(err)
	}
	n, err := getNode(ctx, fs.Blocks(), e.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(n.chunks) < 2 {
		t.Errorf("got %d chunks, want several", len(n.chunks))
	}

	r, err := fs.Read(ctx, "/big")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("content mismatch")
	}
}

func TestLs(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(ctx, t)

	testutil.WriteFile(ctx, t, fs, "/d/zz", "1")
	testutil.WriteFile(ctx, t, fs, "/d/aa", "22")
	testutil.WriteFile(ctx, t, fs, "/d/mm/x", "333")

	entries, err := fs.Ls(ctx, "/d")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"aa", "mm", "zz"}, names); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if !entries[1].IsDir() || entries[1].Size != 3 {
		t.Errorf("got %+v for mm", entries[1])
	}

	if _, err = fs.Ls(ctx, "/nothing"); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCpMvRm(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(ctx, t)

	testutil.WriteFile(ctx, t, fs, "/src/one", "1")
	testutil.WriteFile(ctx, t, fs, "/src/two", "2")
	srcHash := testutil.HashOf(ctx, t, fs, "/src")

	if err := fs.Cp(ctx, "/src", "/x/y/copy", notesync.CpOptions{}); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("cp without parents: got %v, want ErrNotFound", err)
	}
	if err := fs.Cp(ctx, "/src", "/x/y/copy", notesync.CpOptions{Parents: true}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.HashOf(ctx, t, fs, "/x/y/copy"); got != srcHash {
		t.Errorf("copy has hash %s, want %s", got, srcHash)
	}
	if err := fs.Cp(ctx, "/src", "/x/y/copy", notesync.CpOptions{}); err == nil {
		t.Error("cp onto an existing entry succeeded")
	}

	if err := fs.Mv(ctx, "/src/one", "/moved", notesync.CpOptions{}); err != nil {
		t.Fatal(err)
	}
	if testutil.Exists(ctx, t, fs, "/src/one") {
		t.Error("/src/one still exists after mv")
	}
	if got := testutil.ReadFile(ctx, t, fs, "/moved"); got != "1" {
		t.Errorf("got %q, want 1", got)
	}

	if err := fs.Rm(ctx, "/x", notesync.RmOptions{}); err == nil {
		t.Error("non-recursive rm of a directory succeeded")
	}
	if err := fs.Rm(ctx, "/x", notesync.RmOptions{Recursive: true}); err != nil {
		t.Fatal(err)
	}
	if testutil.Exists(ctx, t, fs, "/x") {
		t.Error("/x still exists after rm")
	}
	if err := fs.Rm(ctx, "/x", notesync.RmOptions{Recursive: true}); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("second rm: got %v, want ErrNotFound", err)
	}
}

func TestResolveView(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(ctx, t)

	testutil.WriteFile(ctx, t, fs, "/acct/keystore/public", "pub")
	old, err := fs.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	keystoreHash := testutil.HashOf(ctx, t, fs, "/acct/keystore")

	if err = fs.Rm(ctx, "/acct", notesync.RmOptions{Recursive: true}); err != nil {
		t.Fatal(err)
	}

	// The old tree is still readable by hash.
	if got := testutil.ReadFile(ctx, t, fs, notesync.ResolvePath(old, "acct", "keystore", "public")); got != "pub" {
		t.Errorf("got %q, want pub", got)
	}

	err = fs.Cp(ctx, notesync.ResolvePath(old, "acct", "keystore"), "/restored/keystore", notesync.CpOptions{Parents: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.HashOf(ctx, t, fs, "/restored/keystore"); got != keystoreHash {
		t.Errorf("copied subtree has hash %s, want %s", got, keystoreHash)
	}

	if _, err = fs.Stat(ctx, notesync.ResolvePath(old, "nope")); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err = fs.Mv(ctx, notesync.ResolvePath(old, "acct"), "/elsewhere", notesync.CpOptions{}); !errors.Is(err, notesync.ErrReadOnly) {
		t.Errorf("got %v, want ErrReadOnly", err)
	}
}

func TestDeterministicHashes(t *testing.T) {
	ctx := context.Background()
	fs1 := newTestFS(ctx, t)
	fs2 := newTestFS(ctx, t)

	testutil.WriteFile(ctx, t, fs1, "/a", "1")
	testutil.WriteFile(ctx, t, fs1, "/b/c", "2")

	testutil.WriteFile(ctx, t, fs2, "/b/c", "2")
	testutil.WriteFile(ctx, t, fs2, "/a", "1")

	h1, _ := fs1.Root(ctx)
	h2, _ := fs2.Root(ctx)
	if h1 != h2 {
		t.Errorf("same tree written in different order has hashes %s and %s", h1, h2)
	}
}

func TestFileRoot(t *testing.T) {
	var (
		ctx    = context.Background()
		blocks = mem.New()
		path   = filepath.Join(t.TempDir(), "root")
	)

	fs1, err := New(ctx, blocks, NewFileRoot(path))
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(ctx, t, fs1, "/persisted", "yes")

	fs2, err := New(ctx, blocks, NewFileRoot(path))
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ReadFile(ctx, t, fs2, "/persisted"); got != "yes" {
		t.Errorf("got %q, want yes", got)
	}
}
