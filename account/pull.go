package account

import (
	"context"
	"iter"
	"sync"
)

// iterPull is iter.Pull2 for sequences of values and errors,
// shaped for watchdog.Pull.
// The stop function waits for any next call still in progress,
// since watchdog.Pull may abandon one when its context ends.
func iterPull[T any](seq iter.Seq2[T, error]) (func(context.Context) (T, bool, error), func()) {
	next, stop := iter.Pull2(seq)

	var mu sync.Mutex
	pull := func(context.Context) (T, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		val, err, ok := next()
		return val, ok, err
	}
	return pull, func() {
		mu.Lock()
		defer mu.Unlock()
		stop()
	}
}
