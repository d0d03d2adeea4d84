// Package mem implements an in-memory block store.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var (
	_ blob.Store   = &Store{}
	_ blob.Haser   = &Store{}
	_ blob.Lister  = &Store{}
	_ blob.Deleter = &Store{}
)

// Store is a memory-based implementation of a block store.
type Store struct {
	mu     sync.Mutex
	blocks map[notesync.Hash][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{
		blocks: make(map[notesync.Hash][]byte),
	}
}

// Get gets the block with hash h.
func (s *Store) Get(_ context.Context, h notesync.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blocks[h]; ok {
		return b, nil
	}
	return nil, notesync.ErrNotFound
}

// Has tells whether the store has the block with hash h.
func (s *Store) Has(_ context.Context, h notesync.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blocks[h]
	return ok, nil
}

// Put adds a block to the store if it wasn't already present.
func (s *Store) Put(_ context.Context, b []byte) (notesync.Hash, bool, error) {
	h := notesync.HashOf(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[h]; ok {
		return h, false, nil
	}
	s.blocks[h] = append([]byte(nil), b...)
	return h, true, nil
}

// Delete removes a block.
// It is not an error for the block to be absent.
func (s *Store) Delete(_ context.Context, h notesync.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocks, h)
	return nil
}

// Len is the number of blocks in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

// ListHashes produces all block hashes in the store, in lexicographic order.
func (s *Store) ListHashes(ctx context.Context, start notesync.Hash, f func(notesync.Hash) error) error {
	s.mu.Lock()
	hashes := make([]notesync.Hash, 0, len(s.blocks))
	for h := range s.blocks {
		hashes = append(hashes, h)
	}
	s.mu.Unlock()

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	index := sort.Search(len(hashes), func(n int) bool {
		return start.Less(hashes[n])
	})

	for i := index; i < len(hashes); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f(hashes[i])
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	blob.Register("mem", func(context.Context, map[string]interface{}) (blob.Store, error) {
		return New(), nil
	})
}
