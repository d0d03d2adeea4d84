// Package file implements a block store as a file hierarchy.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var (
	_ blob.Store   = &Store{}
	_ blob.Haser   = &Store{}
	_ blob.Lister  = &Store{}
	_ blob.Deleter = &Store{}
)

// Store is a file-based implementation of a block store.
// Blocks live at root/blocks/xx/xxxx/<hash>.
type Store struct {
	root string
}

// New produces a new Store storing data beneath root.
func New(root string) *Store {
	return &Store{root: root}
}

// Root is the directory beneath which s stores its data.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) blockroot() string {
	return filepath.Join(s.root, "blocks")
}

func (s *Store) blockpath(h notesync.Hash) string {
	hex := h.String()
	return filepath.Join(s.blockroot(), hex[:2], hex[:4], hex)
}

// Get gets the block with hash h.
func (s *Store) Get(_ context.Context, h notesync.Hash) ([]byte, error) {
	path := s.blockpath(h)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notesync.ErrNotFound
	}
	return b, errors.Wrapf(err, "reading %s", path)
}

// Has tells whether s has the block with hash h.
func (s *Store) Has(_ context.Context, h notesync.Hash) (bool, error) {
	_, err := os.Stat(s.blockpath(h))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Put adds a block to the store if it wasn't already present.
// The block is written to a temporary file and renamed into place,
// so readers never see a partial block.
func (s *Store) Put(_ context.Context, b []byte) (notesync.Hash, bool, error) {
	var (
		h    = notesync.HashOf(b)
		path = s.blockpath(h)
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return h, false, nil
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return notesync.Zero, false, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	f, err := os.CreateTemp(dir, "tmp")
	if err != nil {
		return notesync.Zero, false, errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	_, err = f.Write(b)
	if err != nil {
		f.Close()
		return notesync.Zero, false, errors.Wrapf(err, "writing data to %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return notesync.Zero, false, errors.Wrapf(err, "closing %s", tmpname)
	}

	err = os.Rename(tmpname, path)
	return h, err == nil, errors.Wrapf(err, "renaming %s to %s", tmpname, path)
}

// Delete removes a block.
func (s *Store) Delete(_ context.Context, h notesync.Hash) error {
	err := os.Remove(s.blockpath(h))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ListHashes produces all block hashes in the store, in lexicographic order.
func (s *Store) ListHashes(ctx context.Context, start notesync.Hash, f func(notesync.Hash) error) error {
	topLevel, err := os.ReadDir(s.blockroot())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.blockroot())
	}

	startHex := start.String()
	topIndex := sort.Search(len(topLevel), func(n int) bool {
		return topLevel[n].Name() >= startHex[:2]
	})
	for i := topIndex; i < len(topLevel); i++ {
		topInfo := topLevel[i]
		if !topInfo.IsDir() {
			continue
		}
		topName := topInfo.Name()
		if len(topName) != 2 {
			continue
		}
		if _, err = strconv.ParseInt(topName, 16, 64); err != nil {
			continue
		}

		midLevel, err := os.ReadDir(filepath.Join(s.blockroot(), topName))
		if err != nil {
			return errors.Wrapf(err, "reading dir %s/%s", s.blockroot(), topName)
		}
		midIndex := sort.Search(len(midLevel), func(n int) bool {
			return midLevel[n].Name() >= startHex[:4]
		})
		for j := midIndex; j < len(midLevel); j++ {
			midInfo := midLevel[j]
			if !midInfo.IsDir() {
				continue
			}
			midName := midInfo.Name()
			if len(midName) != 4 {
				continue
			}
			if _, err = strconv.ParseInt(midName, 16, 64); err != nil {
				continue
			}

			blockInfos, err := os.ReadDir(filepath.Join(s.blockroot(), topName, midName))
			if err != nil {
				return errors.Wrapf(err, "reading dir %s/%s/%s", s.blockroot(), topName, midName)
			}

			index := sort.Search(len(blockInfos), func(n int) bool {
				return blockInfos[n].Name() > startHex
			})
			for k := index; k < len(blockInfos); k++ {
				blockInfo := blockInfos[k]
				if blockInfo.IsDir() {
					continue
				}

				h, err := notesync.HashFromHex(blockInfo.Name())
				if err != nil {
					continue
				}

				if err = ctx.Err(); err != nil {
					return err
				}
				err = f(h)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func init() {
	blob.Register("file", func(_ context.Context, conf map[string]interface{}) (blob.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
