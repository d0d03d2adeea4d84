// Package mem implements an in-memory anchor store.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/anchor"
)

var (
	_ anchor.Store  = &Store{}
	_ anchor.Lister = &Store{}
)

type entry struct {
	h  notesync.Hash
	at time.Time
}

// Store is a memory-based anchor store.
type Store struct {
	mu        sync.Mutex
	anchors   map[string][]entry // each sorted by time
	verifiers map[string][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{
		anchors:   make(map[string][]entry),
		verifiers: make(map[string][]byte),
	}
}

// GetAnchor implements anchor.Getter.
func (s *Store) GetAnchor(_ context.Context, name string) (notesync.Hash, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.anchors[name]
	if len(entries) == 0 {
		return notesync.Zero, time.Time{}, notesync.ErrNotFound
	}
	e := entries[len(entries)-1]
	return e.h, e.at, nil
}

// PutAnchor implements anchor.Store.
func (s *Store) PutAnchor(_ context.Context, name string, h notesync.Hash, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.anchors[name]
	index := sort.Search(len(entries), func(n int) bool {
		return entries[n].at.After(at)
	})
	entries = append(entries, entry{})
	copy(entries[index+1:], entries[index:])
	entries[index] = entry{h: h, at: at}
	s.anchors[name] = entries
	return nil
}

// GetVerifier implements anchor.Getter.
func (s *Store) GetVerifier(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifiers[name]
	if !ok {
		return nil, notesync.ErrNotFound
	}
	return v, nil
}

// PutVerifier implements anchor.Store.
func (s *Store) PutVerifier(_ context.Context, name string, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifiers[name] = append([]byte(nil), v...)
	return nil
}

// ListAnchors implements anchor.Lister.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, notesync.Hash, time.Time) error) error {
	s.mu.Lock()
	var names []string
	latest := make(map[string]entry)
	for name, entries := range s.anchors {
		if name > start && len(entries) > 0 {
			names = append(names, name)
			latest[name] = entries[len(entries)-1]
		}
	}
	s.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := latest[name]
		if err := f(name, e.h, e.at); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	anchor.Register("mem", func(context.Context, map[string]interface{}) (anchor.Store, error) {
		return New(), nil
	})
}
