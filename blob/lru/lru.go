// Package lru implements a block store that acts as a least-recently-used cache for a nested block store.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var _ blob.Store = &Store{}

// Store implements a memory-based least-recently-used cache for a block store.
// Writes pass through to the underlying block store.
// Blocks are immutable, so cached entries never go stale.
type Store struct {
	c *lru.Cache // Hash->[]byte
	s blob.Store
}

// New produces a new Store backed by s and caching up to size blocks.
func New(s blob.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Get gets the block with hash h.
func (s *Store) Get(ctx context.Context, h notesync.Hash) ([]byte, error) {
	if got, ok := s.c.Get(h); ok {
		return got.([]byte), nil
	}
	b, err := s.s.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	s.c.Add(h, b)
	return b, nil
}

// Has tells whether the block is cached or present in the nested store.
func (s *Store) Has(ctx context.Context, h notesync.Hash) (bool, error) {
	if s.c.Contains(h) {
		return true, nil
	}
	return blob.Has(ctx, s.s, h)
}

// Put adds a block to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, b []byte) (notesync.Hash, bool, error) {
	h, added, err := s.s.Put(ctx, b)
	if err != nil {
		return h, added, err
	}
	s.c.Add(h, b)
	return h, added, nil
}

// Delete removes a block from the cache and, if supported, from the nested store.
func (s *Store) Delete(ctx context.Context, h notesync.Hash) error {
	s.c.Remove(h)
	if d, ok := s.s.(blob.Deleter); ok {
		return d.Delete(ctx, h)
	}
	return nil
}

// ListHashes delegates to the nested store, if it can list.
func (s *Store) ListHashes(ctx context.Context, start notesync.Hash, f func(notesync.Hash) error) error {
	l, ok := s.s.(blob.Lister)
	if !ok {
		return errors.New("nested store cannot list")
	}
	return l.ListHashes(ctx, start, f)
}

func init() {
	blob.Register("lru", func(ctx context.Context, conf map[string]interface{}) (blob.Store, error) {
		size, err := intParam(conf, "size")
		if err != nil {
			return nil, err
		}
		nested, err := blob.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, size)
	})
}

func intParam(conf map[string]interface{}, key string) (int, error) {
	switch v := conf[key].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case interface{ Int64() (int64, error) }: // json.Number
		n, err := v.Int64()
		return int(n), errors.Wrapf(err, "parsing %q parameter", key)
	}
	return 0, errors.Errorf(`missing %q parameter`, key)
}
