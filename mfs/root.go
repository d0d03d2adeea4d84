package mfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobg/flock"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

// Root keeps the hash of an FS's current root directory.
// The zero hash means there is no root yet.
type Root interface {
	Get(context.Context) (notesync.Hash, error)
	Set(context.Context, notesync.Hash) error
}

// Locker is an optional interface for Roots shared with other processes.
// FS holds the lock for the duration of each mutation.
type Locker interface {
	Lock(context.Context) (unlock func(), err error)
}

// MemRoot is a Root kept in memory.
type MemRoot struct {
	mu sync.Mutex
	h  notesync.Hash
}

var _ Root = &MemRoot{}

func (r *MemRoot) Get(context.Context) (notesync.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h, nil
}

func (r *MemRoot) Set(_ context.Context, h notesync.Hash) error {
	r.mu.Lock()
	r.h = h
	r.mu.Unlock()
	return nil
}

// FileRoot is a Root kept in a file,
// as a hex hash,
// so that several processes can share one tree.
type FileRoot struct {
	path    string
	flocker flock.Locker
}

var (
	_ Root   = &FileRoot{}
	_ Locker = &FileRoot{}
)

// NewFileRoot produces a FileRoot keeping the root hash in the file at path.
// The file need not exist yet.
func NewFileRoot(path string) *FileRoot {
	return &FileRoot{path: path}
}

// Path is the file where r keeps the root hash.
func (r *FileRoot) Path() string {
	return r.path
}

func (r *FileRoot) lockPath() string {
	return r.path + ".lock"
}

// Lock implements Locker.
func (r *FileRoot) Lock(context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return nil, errors.Wrapf(err, "creating dir for %s", r.path)
	}
	if err := r.flocker.Lock(r.lockPath()); err != nil {
		return nil, errors.Wrapf(err, "locking %s", r.lockPath())
	}
	return func() { r.flocker.Unlock(r.lockPath()) }, nil
}

// Get implements Root.
func (r *FileRoot) Get(context.Context) (notesync.Hash, error) {
	b, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return notesync.Zero, nil
	}
	if err != nil {
		return notesync.Zero, errors.Wrapf(err, "reading %s", r.path)
	}
	return notesync.HashFromHex(string(b))
}

// Set implements Root.
// The file is replaced atomically.
func (r *FileRoot) Set(_ context.Context, h notesync.Hash) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	f, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	if _, err = f.WriteString(h.String()); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpname)
	}
	return errors.Wrapf(os.Rename(tmpname, r.path), "renaming %s to %s", tmpname, r.path)
}

// Watch calls f with the new root hash each time the root file changes,
// whether by this process or another,
// until ctx is canceled.
func (r *FileRoot) Watch(ctx context.Context, f func(notesync.Hash)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating watcher")
	}
	defer w.Close()

	dir := filepath.Dir(r.path)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	// Watch the directory: Set replaces the file by renaming over it.
	if err = w.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}

	last, _ := r.Get(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			h, err := r.Get(ctx)
			if err != nil || h == last {
				continue
			}
			last = h
			f(h)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, "watching root file")
		}
	}
}
