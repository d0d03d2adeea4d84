// Package blob describes the block stores beneath the mutable tree.
//
// A block is an immutable byte sequence
// stored and retrieved by its hash.
// The tree's files and directories are encoded as blocks
// (see the mfs package),
// so any Store can hold any number of trees
// and share their common subtrees.
package blob

import (
	"context"

	"github.com/bobg/notesync"
)

// Getter is a read-only Store (qv).
type Getter interface {
	// Get gets a block by its hash.
	// A missing block is reported as notesync.ErrNotFound.
	Get(context.Context, notesync.Hash) ([]byte, error)
}

// Store is a block store.
type Store interface {
	Getter

	// Put adds b to the store if it was not already present.
	// It returns b's hash and a boolean that is true iff the block had to be added.
	Put(ctx context.Context, b []byte) (h notesync.Hash, added bool, err error)
}

// Haser is an optional interface for stores that can check for a block
// without fetching it.
type Haser interface {
	Has(context.Context, notesync.Hash) (bool, error)
}

// Lister is an optional interface for stores that can enumerate their blocks.
type Lister interface {
	// ListHashes calls a function for each block hash in the store in lexicographic order,
	// beginning with the first hash _after_ the specified one.
	//
	// If the callback function returns an error,
	// ListHashes exits with that error.
	ListHashes(context.Context, notesync.Hash, func(notesync.Hash) error) error
}

// Deleter is an optional interface for stores that can remove blocks.
type Deleter interface {
	Delete(context.Context, notesync.Hash) error
}

// Has tells whether g has the block with hash h,
// using Haser if available
// and falling back to Get.
func Has(ctx context.Context, g Getter, h notesync.Hash) (bool, error) {
	if hs, ok := g.(Haser); ok {
		return hs.Has(ctx, h)
	}
	_, err := g.Get(ctx, h)
	if notesync.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}
