package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/bobg/notesync"
)

var _ notesync.Store = &StallingStore{}

// StallingStore wraps a notesync.Store.
// After a call to Stall(n),
// the next n calls block until their context is canceled,
// the way a request to a disconnected peer hangs.
type StallingStore struct {
	notesync.Store

	mu     sync.Mutex
	stalls int
	calls  int
}

// NewStallingStore produces a StallingStore wrapping s.
func NewStallingStore(s notesync.Store) *StallingStore {
	return &StallingStore{Store: s}
}

// Stall makes the next n calls hang.
func (s *StallingStore) Stall(n int) {
	s.mu.Lock()
	s.stalls += n
	s.mu.Unlock()
}

// Calls is the number of calls made so far, including stalled ones.
func (s *StallingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StallingStore) enter(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	stall := s.stalls > 0
	if stall {
		s.stalls--
	}
	s.mu.Unlock()

	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *StallingStore) Stat(ctx context.Context, path string) (notesync.Entry, error) {
	if err := s.enter(ctx); err != nil {
		return notesync.Entry{}, err
	}
	return s.Store.Stat(ctx, path)
}

func (s *StallingStore) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	return s.Store.Read(ctx, path)
}

func (s *StallingStore) Write(ctx context.Context, path string, r io.Reader, opts notesync.WriteOptions) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.Store.Write(ctx, path, r, opts)
}

func (s *StallingStore) Cp(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.Store.Cp(ctx, from, to, opts)
}

func (s *StallingStore) Mv(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.Store.Mv(ctx, from, to, opts)
}

func (s *StallingStore) Rm(ctx context.Context, path string, opts notesync.RmOptions) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.Store.Rm(ctx, path, opts)
}

func (s *StallingStore) Ls(ctx context.Context, path string) ([]notesync.Entry, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	return s.Store.Ls(ctx, path)
}
