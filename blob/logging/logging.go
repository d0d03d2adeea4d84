// Package logging implements a block store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"log"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var _ blob.Store = &Store{}

// Logger is where Store writes.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...interface{})
}

type Store struct {
	s      blob.Store
	logger Logger
}

// New produces a Store logging to the standard logger.
func New(s blob.Store) *Store {
	return &Store{s: s, logger: log.Default()}
}

// NewWithLogger produces a Store logging to l.
func NewWithLogger(s blob.Store, l Logger) *Store {
	return &Store{s: s, logger: l}
}

func (s *Store) Get(ctx context.Context, h notesync.Hash) ([]byte, error) {
	b, err := s.s.Get(ctx, h)
	if err != nil {
		s.logger.Printf("ERROR Get %s: %s", h, err)
	} else {
		s.logger.Printf("Get %s (%d bytes)", h, len(b))
	}
	return b, err
}

func (s *Store) Has(ctx context.Context, h notesync.Hash) (bool, error) {
	ok, err := blob.Has(ctx, s.s, h)
	if err != nil {
		s.logger.Printf("ERROR Has %s: %s", h, err)
	} else {
		s.logger.Printf("Has %s: %v", h, ok)
	}
	return ok, err
}

func (s *Store) Put(ctx context.Context, b []byte) (notesync.Hash, bool, error) {
	h, added, err := s.s.Put(ctx, b)
	if err != nil {
		s.logger.Printf("ERROR in Put: %s", err)
	} else {
		s.logger.Printf("Put %s, added=%v", h, added)
	}
	return h, added, err
}

func init() {
	blob.Register("logging", func(ctx context.Context, conf map[string]interface{}) (blob.Store, error) {
		nested, err := blob.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested), nil
	})
}
