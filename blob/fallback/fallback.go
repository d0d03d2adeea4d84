// Package fallback implements a block store that reads from a local store
// and falls back to a remote one for blocks the local store lacks.
package fallback

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var _ blob.Store = (*Store)(nil)

// Store writes only to its local store.
// Reads try the local store first;
// blocks found only remotely are copied into the local store on the way through,
// so later reads work offline.
type Store struct {
	local  blob.Store
	remote blob.Getter
}

// New produces a new Store.
func New(local blob.Store, remote blob.Getter) *Store {
	return &Store{local: local, remote: remote}
}

// Get implements blob.Getter.
func (s *Store) Get(ctx context.Context, h notesync.Hash) ([]byte, error) {
	b, err := s.local.Get(ctx, h)
	if err == nil {
		return b, nil
	}
	if !notesync.IsNotFound(err) {
		return nil, errors.Wrapf(err, "getting %s locally", h)
	}
	b, err = s.remote.Get(ctx, h)
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s remotely", h)
	}
	if got := notesync.HashOf(b); got != h {
		return nil, errors.Errorf("remote returned block %s for %s", got, h)
	}
	if _, _, err = s.local.Put(ctx, b); err != nil {
		return nil, errors.Wrapf(err, "caching %s locally", h)
	}
	return b, nil
}

// Has reports whether the block is available locally.
func (s *Store) Has(ctx context.Context, h notesync.Hash) (bool, error) {
	return blob.Has(ctx, s.local, h)
}

// Put implements blob.Store.
func (s *Store) Put(ctx context.Context, b []byte) (notesync.Hash, bool, error) {
	return s.local.Put(ctx, b)
}

// Local is the local store.
func (s *Store) Local() blob.Store {
	return s.local
}
