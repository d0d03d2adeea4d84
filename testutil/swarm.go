package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/bobg/notesync"
)

var _ notesync.Swarm = &Swarm{}

// Swarm is a fake notesync.Swarm that records its calls.
// Pings succeed unless Down is set.
type Swarm struct {
	mu sync.Mutex

	Down bool

	Pings, Connects, Disconnects int
}

// SetDown changes whether pings fail.
func (s *Swarm) SetDown(down bool) {
	s.mu.Lock()
	s.Down = down
	s.mu.Unlock()
}

// Counts reports the number of calls to each method so far.
func (s *Swarm) Counts() (pings, connects, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Pings, s.Connects, s.Disconnects
}

func (s *Swarm) Ping(ctx context.Context, _ string, opts notesync.PingOptions) ([]notesync.PingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := opts.Count
	if count <= 0 {
		count = 1
	}
	var result []notesync.PingResult
	for i := 0; i < count; i++ {
		s.Pings++
		if s.Down {
			result = append(result, notesync.PingResult{Err: context.DeadlineExceeded})
		} else {
			result = append(result, notesync.PingResult{Success: true, RTT: time.Millisecond})
		}
	}
	return result, ctx.Err()
}

func (s *Swarm) Connect(context.Context, string) error {
	s.mu.Lock()
	s.Connects++
	s.mu.Unlock()
	return nil
}

func (s *Swarm) Disconnect(context.Context, string) error {
	s.mu.Lock()
	s.Disconnects++
	s.mu.Unlock()
	return nil
}
