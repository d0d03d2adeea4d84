package hub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	anchormem "github.com/bobg/notesync/anchor/mem"
	"github.com/bobg/notesync/blob/mem"
	"github.com/bobg/notesync/mfs"
	"github.com/bobg/notesync/testutil"
)

type fixture struct {
	blocks *mem.Store
	names  *anchormem.Store
	srv    *httptest.Server
	client *Client
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		blocks: mem.New(),
		names:  anchormem.New(),
	}
	s := NewServer(f.blocks, f.names, ServerOptions{VerifierMemory: 64, Logger: testLogger{t}})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	f.client = NewClient(f.srv.URL)
	return f
}

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(format string, args ...interface{}) {
	l.t.Logf(format, args...)
}

func TestResolveUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, ok, err := f.client.Resolve(ctx, "knobody")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("resolved an unpublished id")
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h, _, err := f.client.Put(ctx, []byte("tree"))
	if err != nil {
		t.Fatal(err)
	}
	if err = f.client.Publish(ctx, "kacct", h, "secret"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := f.client.Resolve(ctx, "kacct")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != h {
		t.Errorf("got %s (%v), want %s", got, ok, h)
	}

	h2, _, err := f.client.Put(ctx, []byte("tree 2"))
	if err != nil {
		t.Fatal(err)
	}
	if err = f.client.Publish(ctx, "kacct", h2, "secret"); err != nil {
		t.Fatal(err)
	}
	got, _, err = f.client.Resolve(ctx, "kacct")
	if err != nil {
		t.Fatal(err)
	}
	if got != h2 {
		t.Errorf("got %s, want %s", got, h2)
	}

	err = f.client.Publish(ctx, "kacct", h, "wrong")
	var rerr *notesync.PublishRejectedError
	if !errors.As(err, &rerr) {
		t.Fatalf("got %v, want PublishRejectedError", err)
	}
	if rerr.StatusCode != http.StatusForbidden {
		t.Errorf("got status %d, want %d", rerr.StatusCode, http.StatusForbidden)
	}
	if !errors.Is(err, notesync.ErrPublishRejected) {
		t.Error("rejection does not match ErrPublishRejected")
	}

	got, _, err = f.client.Resolve(ctx, "kacct")
	if err != nil {
		t.Fatal(err)
	}
	if got != h2 {
		t.Errorf("rejected publish changed the name: got %s, want %s", got, h2)
	}
}

func TestPublishMissingBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.client.Publish(ctx, "kacct", notesync.HashOf([]byte("absent")), "secret")
	var rerr *notesync.PublishRejectedError
	if !errors.As(err, &rerr) {
		t.Fatalf("got %v, want PublishRejectedError", err)
	}
	if rerr.StatusCode != http.StatusConflict {
		t.Errorf("got status %d, want %d", rerr.StatusCode, http.StatusConflict)
	}

	// The failed publish registered no password.
	if _, err = f.names.GetVerifier(ctx, "kacct"); !notesync.IsNotFound(err) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	testutil.ReadWrite(ctx, t, f.client)

	h, added, err := f.client.Put(ctx, []byte("direct"))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("new block not added")
	}
	if ok, _ := f.blocks.Has(ctx, h); !ok {
		t.Error("block not in server store")
	}
	if ok, err := f.client.Has(ctx, h); err != nil || !ok {
		t.Errorf("Has: got %v, %v", ok, err)
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		method, path string
		want         int
	}{
		{"GET", "/resolve", http.StatusBadRequest},
		{"POST", "/publish?id=k&password=p&cid=zz", http.StatusBadRequest},
		{"POST", "/publish?cid=00", http.StatusBadRequest},
		{"GET", "/blocks/nothex", http.StatusBadRequest},
		{"DELETE", "/blocks", http.StatusMethodNotAllowed},
	}
	for _, c := range cases {
		t.Run(c.method+c.path, func(t *testing.T) {
			req, err := http.NewRequest(c.method, f.srv.URL+c.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != c.want {
				t.Errorf("got %d, want %d", resp.StatusCode, c.want)
			}
		})
	}
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.client.Ping(ctx, "", notesync.PingOptions{Count: 2, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	for i, r := range res {
		if !r.Success || r.Err != nil {
			t.Errorf("ping %d: %+v", i, r)
		}
	}

	if err = f.client.Disconnect(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if err = f.client.Connect(ctx, ""); err != nil {
		t.Fatal(err)
	}

	f.srv.Close()
	res, err = f.client.Ping(ctx, "", notesync.PingOptions{Count: 1, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Success || res[0].Err == nil {
		t.Errorf("ping of closed server: got %+v", res)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, _, err := f.client.Resolve(ctx, "kacct"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "notesync_hub_requests_total") {
		t.Error("hub request counter missing from metrics")
	}
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	local := mem.New()
	fs, err := mfs.New(ctx, local, &mfs.MemRoot{})
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(ctx, t, fs, "/kacct/keystore/public", "pub")
	testutil.WriteFile(ctx, t, fs, "/kacct/objects/a", strings.Repeat("notes ", 2000))

	h := testutil.HashOf(ctx, t, fs, "/kacct")

	p := NewPublisher(f.client, local)
	if err = p.Publish(ctx, "kacct", h, "secret"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := f.client.Resolve(ctx, "kacct")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != h {
		t.Fatalf("got %s (%v), want %s", got, ok, h)
	}

	// The hub now holds the whole tree.
	var missing int
	err = mfs.Walk(ctx, local, h, func(b notesync.Hash) (bool, error) {
		if ok, _ := f.blocks.Has(ctx, b); !ok {
			missing++
		}
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if missing > 0 {
		t.Errorf("%d blocks missing from hub", missing)
	}
}
