// Package gc removes blocks that no tree of interest can reach.
package gc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

// Store is a block store that can be garbage collected.
type Store interface {
	blob.Getter
	blob.Lister
	blob.Deleter
}

// Run runs a garbage collection on s,
// with k the set of hashes to keep.
// It returns the number of blocks deleted.
func Run(ctx context.Context, s Store, k Keep) (int, error) {
	var garbage []notesync.Hash
	err := s.ListHashes(ctx, notesync.Zero, func(h notesync.Hash) error {
		found, err := k.Contains(ctx, h)
		if err != nil {
			return err
		}
		if !found {
			garbage = append(garbage, h)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "listing blocks")
	}

	// Deleting happens after listing finishes:
	// some stores cannot write while a listing is open.
	for i, h := range garbage {
		if err := s.Delete(ctx, h); err != nil {
			return i, errors.Wrapf(err, "deleting %s", h)
		}
	}
	return len(garbage), nil
}
