package watchdog

import (
	"context"
	"iter"
	"time"
)

type pulled[T any] struct {
	val T
	ok  bool
	err error
}

// Pull turns a sequence of remote pulls into an iterator,
// watching each pull the way Do watches an operation,
// except that a stalled pull is never abandoned or reissued:
// after the connection check, Pull keeps waiting for it.
// Elements are therefore neither lost nor reordered.
//
// The next function returns the next element and true,
// or false at the end of the sequence.
// The iterator stops after yielding the first error.
func Pull[T any](ctx context.Context, w *Watchdog, next func(context.Context) (T, bool, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for {
			ch := make(chan pulled[T], 1)
			go func() {
				val, ok, err := next(ctx)
				ch <- pulled[T]{val: val, ok: ok, err: err}
			}()

			p, err := wait(ctx, w, ch)
			if err != nil {
				yield(zero, err)
				return
			}
			if p.err != nil {
				yield(zero, p.err)
				return
			}
			if !p.ok {
				return
			}
			if !yield(p.val, nil) {
				return
			}
		}
	}
}

func wait[T any](ctx context.Context, w *Watchdog, ch <-chan pulled[T]) (pulled[T], error) {
	for {
		timer := time.NewTimer(w.timeout())
		select {
		case p := <-ch:
			timer.Stop()
			return p, nil
		case <-ctx.Done():
			timer.Stop()
			return pulled[T]{}, ctx.Err()
		case <-timer.C:
			if w != nil {
				w.afterStall(ctx, "pull")
			}
		}
	}
}
