package account

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer(t *testing.T) {
	var n atomic.Int32
	d := newDebouncer(200*time.Millisecond, func() { n.Add(1) })
	defer d.stop()

	for i := 0; i < 5; i++ {
		d.trigger()
	}
	// Leading fire.
	waitFor(t, func() bool { return n.Load() >= 1 })
	if got := n.Load(); got != 1 {
		t.Fatalf("got %d fires, want 1", got)
	}

	// Trailing fire for the other four.
	waitFor(t, func() bool { return n.Load() >= 2 })

	time.Sleep(500 * time.Millisecond)
	if got := n.Load(); got != 2 {
		t.Fatalf("got %d fires after quiet period, want 2", got)
	}

	// Quiet again: the next trigger fires at once.
	d.trigger()
	waitFor(t, func() bool { return n.Load() >= 3 })
}

func TestDebouncerSingle(t *testing.T) {
	var n atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { n.Add(1) })

	d.trigger()
	time.Sleep(200 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Errorf("got %d fires, want 1", got)
	}

	d.stop()
	d.trigger()
	time.Sleep(50 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Errorf("stopped debouncer fired")
	}
}

func TestDebouncerOff(t *testing.T) {
	var n atomic.Int32
	d := newDebouncer(-1, func() { n.Add(1) })
	d.trigger()
	time.Sleep(20 * time.Millisecond)
	if got := n.Load(); got != 0 {
		t.Errorf("got %d fires, want 0", got)
	}
}
