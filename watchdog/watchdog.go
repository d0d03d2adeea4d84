// Package watchdog keeps long-running remote operations alive across transient peer disconnects.
//
// Each operation is raced against a short timeout.
// When the timeout wins,
// the watchdog checks the connection to the peer
// (pinging it, and reconnecting if the pings fail)
// and tries again.
// There is no retry limit:
// only the caller's context ends the loop.
// Errors other than stalls are returned immediately.
package watchdog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/metrics"
)

// errStall marks an attempt that lost the race against the timeout.
// It never leaves this package.
var errStall = errors.New("stall")

// Logger is where a Watchdog reports connection trouble.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Options configure a Watchdog.
// Zero fields take the values in DefaultOptions.
type Options struct {
	// Timeout bounds each attempt of an operation.
	Timeout time.Duration

	// TTL is how long the result of a connection check is reused.
	TTL time.Duration

	PingCount   int
	PingTimeout time.Duration

	Logger Logger
}

// DefaultOptions are the defaults for Options.
var DefaultOptions = Options{
	Timeout:     time.Second,
	TTL:         10 * time.Second,
	PingCount:   2,
	PingTimeout: time.Second,
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultOptions.Timeout
	}
	if o.TTL <= 0 {
		o.TTL = DefaultOptions.TTL
	}
	if o.PingCount <= 0 {
		o.PingCount = DefaultOptions.PingCount
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = DefaultOptions.PingTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Watchdog watches the link to one peer.
// A nil *Watchdog runs operations without a timeout.
type Watchdog struct {
	swarm notesync.Swarm
	peer  string
	opts  Options

	flight singleflight.Group

	mu        sync.Mutex
	checkedAt time.Time
	checkErr  error
}

// New produces a Watchdog for the link to peer through swarm.
// If swarm is nil,
// stalls are still retried but no connection checks happen.
func New(swarm notesync.Swarm, peer string, opts Options) *Watchdog {
	return &Watchdog{
		swarm: swarm,
		peer:  peer,
		opts:  opts.withDefaults(),
	}
}

// Options returns w's options, with defaults filled in.
func (w *Watchdog) Options() Options {
	return w.opts
}

// EnsureConnection makes sure the peer is reachable,
// reconnecting if it does not answer pings.
// Concurrent callers share one check,
// and its result is reused for the TTL.
func (w *Watchdog) EnsureConnection(ctx context.Context) error {
	if w == nil || w.swarm == nil {
		return nil
	}

	w.mu.Lock()
	if !w.checkedAt.IsZero() && time.Since(w.checkedAt) < w.opts.TTL {
		err := w.checkErr
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	// The check outlives any one caller:
	// the others sharing it must not see the first caller's cancellation.
	checkCtx := context.WithoutCancel(ctx)
	ch := w.flight.DoChan("check", func() (interface{}, error) {
		err := w.check(checkCtx)
		w.mu.Lock()
		w.checkedAt, w.checkErr = time.Now(), err
		w.mu.Unlock()
		return nil, err
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (w *Watchdog) check(ctx context.Context) error {
	results, err := w.swarm.Ping(ctx, w.peer, notesync.PingOptions{Count: w.opts.PingCount, Timeout: w.opts.PingTimeout})
	if err == nil {
		for _, r := range results {
			if r.Success {
				metrics.WatchdogChecks.WithLabelValues("ok").Inc()
				return nil
			}
		}
	}
	metrics.WatchdogChecks.WithLabelValues("failed").Inc()

	w.opts.Logger.Printf("peer %s did not answer pings, reconnecting", w.peer)
	if err := w.swarm.Disconnect(ctx, w.peer); err != nil {
		w.opts.Logger.Printf("ERROR disconnecting from %s: %s", w.peer, err)
	}
	metrics.WatchdogReconnects.Inc()
	return errors.Wrapf(w.swarm.Connect(ctx, w.peer), "connecting to %s", w.peer)
}

// afterStall runs after a stall:
// it checks the connection and logs, but does not return, any failure,
// since the next attempt is the real test.
func (w *Watchdog) afterStall(ctx context.Context, kind string) {
	metrics.WatchdogStalls.WithLabelValues(kind).Inc()
	if err := w.EnsureConnection(ctx); err != nil && ctx.Err() == nil {
		w.opts.Logger.Printf("ERROR checking connection to %s: %s", w.peer, err)
	}
}

func (w *Watchdog) timeout() time.Duration {
	if w == nil {
		return DefaultOptions.Timeout
	}
	return w.opts.Timeout
}

type result[T any] struct {
	val T
	err error
}

// Do runs op, racing each attempt against the watchdog's timeout.
// An attempt that finishes first,
// successfully or not,
// decides the result.
// An attempt that stalls has its context canceled
// and is replaced by a fresh one after a connection check.
// Because of this, op may run more than once,
// and should be safe to repeat.
func Do[T any](ctx context.Context, w *Watchdog, op func(context.Context) (T, error)) (T, error) {
	if w == nil {
		return op(ctx)
	}
	for {
		val, err := attempt(ctx, w, op)
		if !errors.Is(err, errStall) {
			return val, err
		}
		w.afterStall(ctx, "do")
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
	}
}

func attempt[T any](ctx context.Context, w *Watchdog, op func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		val, err := op(actx)
		ch <- result[T]{val: val, err: err}
	}()

	timer := time.NewTimer(w.timeout())
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, errStall
	}
}
