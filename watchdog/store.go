package watchdog

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

var _ notesync.Store = &Store{}

// Store wraps a notesync.Store so that every call goes through Do.
//
// Write buffers its input so that a retried attempt can reread it
// (Write with Truncate is safe to repeat),
// and Read returns content already fully read,
// so that no stall can happen after Read returns.
type Store struct {
	s notesync.Store
	w *Watchdog
}

// NewStore produces a Store wrapping s and watched by w.
func NewStore(s notesync.Store, w *Watchdog) *Store {
	return &Store{s: s, w: w}
}

// Unwrap returns the underlying store.
func (s *Store) Unwrap() notesync.Store {
	return s.s
}

func (s *Store) Stat(ctx context.Context, path string) (notesync.Entry, error) {
	return Do(ctx, s.w, func(ctx context.Context) (notesync.Entry, error) {
		return s.s.Stat(ctx, path)
	})
}

func (s *Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	data, err := Do(ctx, s.w, func(ctx context.Context) ([]byte, error) {
		r, err := s.s.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Write(ctx context.Context, path string, r io.Reader, opts notesync.WriteOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "reading content for %s", path)
	}
	_, err = Do(ctx, s.w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.s.Write(ctx, path, bytes.NewReader(data), opts)
	})
	return err
}

// Cp, Mv, and Rm are not idempotent,
// and a stalled attempt may still complete after its replacement has started.
// So a retry that fails only because an earlier attempt already did the work
// counts as a success.

func (s *Store) Cp(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	var tries atomic.Int32
	_, err := Do(ctx, s.w, func(ctx context.Context) (struct{}, error) {
		retry := tries.Add(1) > 1
		err := s.s.Cp(ctx, from, to, opts)
		if err != nil && retry && s.copied(ctx, from, to) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

func (s *Store) Mv(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	var tries atomic.Int32
	_, err := Do(ctx, s.w, func(ctx context.Context) (struct{}, error) {
		retry := tries.Add(1) > 1
		err := s.s.Mv(ctx, from, to, opts)
		if err != nil && retry && s.moved(ctx, from, to) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

func (s *Store) Rm(ctx context.Context, path string, opts notesync.RmOptions) error {
	var tries atomic.Int32
	_, err := Do(ctx, s.w, func(ctx context.Context) (struct{}, error) {
		retry := tries.Add(1) > 1
		err := s.s.Rm(ctx, path, opts)
		if retry && notesync.IsNotFound(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// copied tells whether to holds the same tree as from.
func (s *Store) copied(ctx context.Context, from, to string) bool {
	src, err := s.s.Stat(ctx, from)
	if err != nil {
		return false
	}
	dst, err := s.s.Stat(ctx, to)
	return err == nil && dst.Hash == src.Hash
}

// moved tells whether from is gone and to exists.
func (s *Store) moved(ctx context.Context, from, to string) bool {
	if _, err := s.s.Stat(ctx, from); !notesync.IsNotFound(err) {
		return false
	}
	_, err := s.s.Stat(ctx, to)
	return err == nil
}

func (s *Store) Ls(ctx context.Context, path string) ([]notesync.Entry, error) {
	return Do(ctx, s.w, func(ctx context.Context) ([]notesync.Entry, error) {
		return s.s.Ls(ctx, path)
	})
}
