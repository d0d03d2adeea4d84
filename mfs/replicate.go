package mfs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

// Replicate copies to dst every block of the tree rooted at the directory root
// that dst does not already have.
// A block is copied only after everything beneath it,
// so a block present in dst implies its whole subtree is,
// and Replicate skips such subtrees without descending.
// It returns the number of blocks copied.
func Replicate(ctx context.Context, src blob.Getter, dst blob.Store, root notesync.Hash) (int, error) {
	return replicate(ctx, src, dst, root, notesync.TypeDir)
}

func replicate(ctx context.Context, src blob.Getter, dst blob.Store, h notesync.Hash, typ notesync.EntryType) (int, error) {
	ok, err := blob.Has(ctx, dst, h)
	if err != nil {
		return 0, errors.Wrapf(err, "checking for %s", h)
	}
	if ok {
		return 0, nil
	}

	var count int
	if typ != Chunk {
		err = Links(ctx, src, h, typ, func(child notesync.Hash, childType notesync.EntryType) error {
			n, err := replicate(ctx, src, dst, child, childType)
			count += n
			return err
		})
		if err != nil {
			return count, err
		}
	}

	b, err := src.Get(ctx, h)
	if err != nil {
		return count, errors.Wrapf(err, "getting %s", h)
	}
	if _, _, err = dst.Put(ctx, b); err != nil {
		return count, errors.Wrapf(err, "putting %s", h)
	}
	return count + 1, nil
}

// Walk calls f for every block reachable from the directory root,
// parents before children.
// When f returns false, the blocks beneath that one are skipped.
func Walk(ctx context.Context, g blob.Getter, root notesync.Hash, f func(notesync.Hash) (bool, error)) error {
	return walk(ctx, g, root, notesync.TypeDir, f)
}

func walk(ctx context.Context, g blob.Getter, h notesync.Hash, typ notesync.EntryType, f func(notesync.Hash) (bool, error)) error {
	descend, err := f(h)
	if err != nil || !descend || typ == Chunk {
		return err
	}
	return Links(ctx, g, h, typ, func(child notesync.Hash, childType notesync.EntryType) error {
		return walk(ctx, g, child, childType, f)
	})
}
