package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob/mem"
	"github.com/bobg/notesync/mfs"
	"github.com/bobg/notesync/testutil"
)

var testOpts = Options{
	Timeout:     20 * time.Millisecond,
	TTL:         time.Hour,
	PingCount:   2,
	PingTimeout: 10 * time.Millisecond,
}

func TestDoRetriesStalls(t *testing.T) {
	ctx := context.Background()

	fs, err := mfs.New(ctx, mem.New(), &mfs.MemRoot{})
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(ctx, t, fs, "/f", "content")

	var (
		swarm = &testutil.Swarm{Down: true}
		w     = New(swarm, "peer", testOpts)
		ss    = testutil.NewStallingStore(fs)
		s     = NewStore(ss, w)
	)

	ss.Stall(2)
	if got := testutil.ReadFile(ctx, t, s, "/f"); got != "content" {
		t.Errorf("got %q, want content", got)
	}
	if got := ss.Calls(); got != 3 {
		t.Errorf("got %d calls, want 3", got)
	}

	// Two stalls, but the connection check is cached for the TTL.
	pings, connects, disconnects := swarm.Counts()
	if pings != 2 || connects != 1 || disconnects != 1 {
		t.Errorf("got %d pings, %d connects, %d disconnects; want 2, 1, 1", pings, connects, disconnects)
	}
}

// slowStore serializes mutations behind a mutex,
// and the first one outlives its attempt's timeout
// without noticing the cancellation.
type slowStore struct {
	notesync.Store

	mu    sync.Mutex
	delay time.Duration
	calls int
}

func (s *slowStore) enter() {
	s.calls++
	if s.calls == 1 {
		time.Sleep(s.delay)
	}
}

func (s *slowStore) Cp(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter()
	return s.Store.Cp(context.WithoutCancel(ctx), from, to, opts)
}

func (s *slowStore) Mv(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter()
	return s.Store.Mv(context.WithoutCancel(ctx), from, to, opts)
}

func (s *slowStore) Rm(ctx context.Context, path string, opts notesync.RmOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter()
	return s.Store.Rm(context.WithoutCancel(ctx), path, opts)
}

func TestSlowMutations(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) (*mfs.FS, *slowStore, *Store) {
		fs, err := mfs.New(ctx, mem.New(), &mfs.MemRoot{})
		if err != nil {
			t.Fatal(err)
		}
		testutil.WriteFile(ctx, t, fs, "/a/f", "content")
		ss := &slowStore{Store: fs, delay: 2 * testOpts.Timeout}
		return fs, ss, NewStore(ss, New(&testutil.Swarm{}, "peer", testOpts))
	}

	t.Run("cp", func(t *testing.T) {
		fs, ss, s := newStore(t)
		if err := s.Cp(ctx, "/a", "/b", notesync.CpOptions{}); err != nil {
			t.Fatal(err)
		}
		if got := testutil.ReadFile(ctx, t, fs, "/b/f"); got != "content" {
			t.Errorf("got %q, want content", got)
		}
		ss.mu.Lock()
		calls := ss.calls
		ss.mu.Unlock()
		if calls < 2 {
			t.Errorf("got %d calls, want a retry", calls)
		}
	})

	t.Run("cp_conflict", func(t *testing.T) {
		fs, _, s := newStore(t)
		testutil.WriteFile(ctx, t, fs, "/b/f", "other")
		if err := s.Cp(ctx, "/a", "/b", notesync.CpOptions{}); err == nil {
			t.Error("copy over a different tree succeeded")
		}
	})

	t.Run("mv", func(t *testing.T) {
		fs, _, s := newStore(t)
		if err := s.Mv(ctx, "/a", "/b", notesync.CpOptions{}); err != nil {
			t.Fatal(err)
		}
		if testutil.Exists(ctx, t, fs, "/a") {
			t.Error("source still exists")
		}
	})

	t.Run("rm", func(t *testing.T) {
		fs, _, s := newStore(t)
		if err := s.Rm(ctx, "/a", notesync.RmOptions{Recursive: true}); err != nil {
			t.Fatal(err)
		}
		if testutil.Exists(ctx, t, fs, "/a") {
			t.Error("still exists")
		}
	})
}

func TestDoHealthyPeer(t *testing.T) {
	var (
		ctx   = context.Background()
		swarm = &testutil.Swarm{}
		w     = New(swarm, "peer", testOpts)
		calls int32
	)
	got, err := Do(ctx, w, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	if _, connects, _ := swarm.Counts(); connects != 0 {
		t.Errorf("reconnected %d times to a healthy peer", connects)
	}
}

func TestDoError(t *testing.T) {
	var (
		ctx   = context.Background()
		w     = New(nil, "peer", testOpts)
		calls int
		boom  = errors.New("boom")
	)
	_, err := Do(ctx, w, func(context.Context) (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	w := New(&testutil.Swarm{}, "peer", testOpts)
	_, err := Do(ctx, w, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestEnsureConnectionSingleFlight(t *testing.T) {
	var (
		ctx   = context.Background()
		swarm = &testutil.Swarm{}
		w     = New(swarm, "peer", testOpts)
		wg    sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.EnsureConnection(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if pings, _, _ := swarm.Counts(); pings != testOpts.PingCount {
		t.Errorf("got %d pings, want %d", pings, testOpts.PingCount)
	}
}

func TestNilSwarm(t *testing.T) {
	w := New(nil, "", Options{})
	if err := w.EnsureConnection(context.Background()); err != nil {
		t.Error(err)
	}
	if w.Options().Timeout != DefaultOptions.Timeout {
		t.Errorf("got timeout %s, want %s", w.Options().Timeout, DefaultOptions.Timeout)
	}
}

func TestPull(t *testing.T) {
	var (
		ctx   = context.Background()
		swarm = &testutil.Swarm{}
		w     = New(swarm, "peer", testOpts)
		calls int
	)

	next := func(context.Context) (int, bool, error) {
		calls++
		if calls > 5 {
			return 0, false, nil
		}
		if calls == 3 {
			// Stall well past the timeout, but finish anyway.
			time.Sleep(5 * testOpts.Timeout)
		}
		return calls * 10, true, nil
	}

	var got []int
	for v, err := range Pull(ctx, w, next) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}

	if diff := cmp.Diff([]int{10, 20, 30, 40, 50}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if calls != 6 {
		t.Errorf("got %d pulls, want 6", calls)
	}
	if pings, _, _ := swarm.Counts(); pings == 0 {
		t.Error("stalled pull did not trigger a connection check")
	}
}

func TestPullError(t *testing.T) {
	boom := errors.New("boom")
	next := func(context.Context) (string, bool, error) {
		return "", false, boom
	}
	var n int
	for _, err := range Pull(context.Background(), nil, next) {
		n++
		if !errors.Is(err, boom) {
			t.Errorf("got %v, want boom", err)
		}
	}
	if n != 1 {
		t.Errorf("got %d results, want 1", n)
	}
}
