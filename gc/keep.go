package gc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/anchor"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/mfs"
)

// Keep is a set of hashes to protect from garbage collection.
type Keep interface {
	// Add adds a single hash to the Keep.
	// It returns true if it was newly added and false if it was already present.
	Add(context.Context, notesync.Hash) (bool, error)

	// Contains tells whether a hash is in the Keep.
	Contains(context.Context, notesync.Hash) (bool, error)
}

// MemKeep is an in-memory Keep.
type MemKeep struct {
	mu sync.Mutex
	m  map[notesync.Hash]struct{}
}

var _ Keep = &MemKeep{}

func NewMemKeep() *MemKeep {
	return &MemKeep{m: make(map[notesync.Hash]struct{})}
}

func (k *MemKeep) Add(_ context.Context, h notesync.Hash) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.m[h]; ok {
		return false, nil
	}
	k.m[h] = struct{}{}
	return true, nil
}

func (k *MemKeep) Contains(_ context.Context, h notesync.Hash) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, ok := k.m[h]
	return ok, nil
}

// Len is the number of hashes in k.
func (k *MemKeep) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

// Protect adds to k every block of the tree rooted at the directory root.
// Subtrees already in k are not revisited.
func Protect(ctx context.Context, k Keep, g blob.Getter, root notesync.Hash) error {
	err := mfs.Walk(ctx, g, root, func(h notesync.Hash) (bool, error) {
		return k.Add(ctx, h)
	})
	return errors.Wrapf(err, "protecting tree %s", root)
}

// ProtectAnchors protects the latest tree of every anchor in l.
// Trees whose root block is missing from g are skipped,
// since a client may publish before its blocks arrive.
// Anchors published after since are protected even when their trees are incomplete,
// so that a publish racing with the collection keeps what it has so far.
func ProtectAnchors(ctx context.Context, k Keep, g blob.Getter, l anchor.Lister, since time.Time) error {
	return l.ListAnchors(ctx, "", func(name string, h notesync.Hash, at time.Time) error {
		ok, err := blob.Has(ctx, g, h)
		if err != nil {
			return errors.Wrapf(err, "checking root of %s", name)
		}
		if !ok {
			return nil
		}
		err = Protect(ctx, k, g, h)
		if notesync.IsNotFound(err) && at.After(since) {
			return nil
		}
		return errors.Wrapf(err, "anchor %s", name)
	})
}
