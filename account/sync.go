package account

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/merge"
	"github.com/bobg/notesync/metrics"
	"github.com/bobg/notesync/watchdog"
)

// SyncOptions modify a call to Sync.
type SyncOptions struct {
	// SkipDownload publishes the local tree without first merging the published one.
	SkipDownload bool

	// Debounce schedules a sync within the debounce window instead of running one now.
	Debounce bool
}

// SyncEvent reports the start (Syncing true) and the end of a sync.
// At the end, CID is the local tree hash
// and Err is the failure, if any.
type SyncEvent struct {
	Syncing bool
	CID     notesync.Hash
	Err     error
}

// ErrorEvent accompanies a failed sync.
// Code is the HTTP status of a rejected publish, and 0 otherwise.
type ErrorEvent struct {
	Message string
	Code    int
}

type resolved struct {
	hash notesync.Hash
	ok   bool
}

// Sync merges the published snapshot into the local tree,
// then publishes the local tree if it differs.
// It returns the local tree hash.
//
// Concurrent calls share one run,
// which carries on even if the caller that started it gives up.
// The run's outcome is also reported to OnSync and OnError listeners.
//
// With opts.Debounce,
// Sync only schedules a run and returns the zero hash.
func (a *Account) Sync(ctx context.Context, opts SyncOptions) (notesync.Hash, error) {
	if a.isStopped() {
		return notesync.Zero, ErrStopped
	}
	if opts.Debounce {
		a.debounce.trigger()
		return notesync.Zero, nil
	}

	runCtx := context.WithoutCancel(ctx)
	ch := a.flight.DoChan(a.id, func() (interface{}, error) {
		return a.run(runCtx, opts)
	})

	select {
	case <-ctx.Done():
		return notesync.Zero, ctx.Err()
	case res := <-ch:
		h, _ := res.Val.(notesync.Hash)
		return h, res.Err
	}
}

// background runs a sync for the debouncer.
// Its outcome reaches only the listeners.
func (a *Account) background() {
	if _, err := a.Sync(context.Background(), SyncOptions{}); err != nil && !errors.Is(err, ErrStopped) {
		a.opts.Logger.Printf("ERROR background sync of %s: %s", a.id, err)
	}
}

func (a *Account) run(ctx context.Context, opts SyncOptions) (notesync.Hash, error) {
	start := time.Now()
	a.emitSync(SyncEvent{Syncing: true})

	h, err := a.sync(ctx, opts)

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if h.IsZero() {
			h = a.localHash(ctx)
		}
		metrics.SyncRuns.WithLabelValues("error").Inc()
		a.opts.Logger.Printf("ERROR syncing %s: %s", a.id, err)
		a.emitSync(SyncEvent{CID: h, Err: err})

		ev := ErrorEvent{Message: err.Error()}
		var rerr *notesync.PublishRejectedError
		if errors.As(err, &rerr) {
			ev.Code = rerr.StatusCode
		}
		a.emitError(ev)
		return h, err
	}

	metrics.SyncRuns.WithLabelValues("ok").Inc()
	a.emitSync(SyncEvent{CID: h})
	return h, nil
}

func (a *Account) sync(ctx context.Context, opts SyncOptions) (notesync.Hash, error) {
	remote, err := watchdog.Do(ctx, a.wd, func(ctx context.Context) (resolved, error) {
		h, ok, err := a.opts.Names.Resolve(ctx, a.id)
		return resolved{hash: h, ok: ok}, err
	})
	if err != nil {
		return notesync.Zero, errors.Wrap(err, "resolving")
	}

	if remote.ok && !opts.SkipDownload {
		rep, err := a.merger.MergeDown(ctx, remote.hash)
		if err != nil {
			return notesync.Zero, errors.Wrapf(err, "merging %s", remote.hash)
		}
		if rep != (merge.Report{}) {
			a.opts.Logger.Printf("merged %s into %s: %d copied, %d kept, %d swept, %d mtimes synthesized", remote.hash, a.id, rep.Copied, rep.Skipped, rep.Swept, rep.Synthesized)
		}
		if rep.Copied > 0 || rep.Swept > 0 {
			a.forgetObjects()
		}
	}

	e, err := a.remote.Stat(ctx, a.root)
	if err != nil {
		return notesync.Zero, errors.Wrap(err, "computing local hash")
	}
	local := e.Hash

	if remote.ok && local == remote.hash {
		return local, nil
	}

	_, err = watchdog.Do(ctx, a.wd, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.opts.Names.Publish(ctx, a.id, local, a.password)
	})
	return local, errors.Wrapf(err, "publishing %s", local)
}

// localHash is the hash of the local account tree,
// or the zero hash if it cannot be had.
func (a *Account) localHash(ctx context.Context) notesync.Hash {
	e, err := a.local.Stat(ctx, a.root)
	if err != nil {
		return notesync.Zero
	}
	return e.Hash
}

func (a *Account) forgetObjects() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, obj := range a.objects {
		obj.forget()
	}
}

// OnSync registers a listener for sync events.
// It returns a function that removes the listener.
func (a *Account) OnSync(f func(SyncEvent)) (remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.nextListener
	a.nextListener++
	a.syncListeners[n] = f
	return func() {
		a.mu.Lock()
		delete(a.syncListeners, n)
		a.mu.Unlock()
	}
}

// OnError registers a listener for error events.
// It returns a function that removes the listener.
func (a *Account) OnError(f func(ErrorEvent)) (remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.nextListener
	a.nextListener++
	a.errListeners[n] = f
	return func() {
		a.mu.Lock()
		delete(a.errListeners, n)
		a.mu.Unlock()
	}
}

func (a *Account) emitSync(ev SyncEvent) {
	a.mu.Lock()
	fs := make([]func(SyncEvent), 0, len(a.syncListeners))
	for _, f := range a.syncListeners {
		fs = append(fs, f)
	}
	a.mu.Unlock()

	for _, f := range fs {
		f(ev)
	}
}

func (a *Account) emitError(ev ErrorEvent) {
	a.mu.Lock()
	fs := make([]func(ErrorEvent), 0, len(a.errListeners))
	for _, f := range a.errListeners {
		fs = append(fs, f)
	}
	a.mu.Unlock()

	for _, f := range fs {
		f(ev)
	}
}
