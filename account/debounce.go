package account

import (
	"sync"
	"time"
)

// debouncer coalesces triggers into at most one fire per window.
// The first trigger after a quiet period fires at once;
// triggers during the window that follows
// produce a single fire when it closes,
// which opens a new window.
// A negative wait makes triggers do nothing.
type debouncer struct {
	wait time.Duration
	fire func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool
}

func newDebouncer(wait time.Duration, fire func()) *debouncer {
	return &debouncer{wait: wait, fire: fire}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.wait < 0 {
		return
	}
	if d.timer != nil {
		d.pending = true
		return
	}
	d.timer = time.AfterFunc(d.wait, d.expire)
	go d.fire()
}

func (d *debouncer) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.pending {
		d.timer = nil
		return
	}
	d.pending = false
	d.timer = time.AfterFunc(d.wait, d.expire)
	go d.fire()
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
