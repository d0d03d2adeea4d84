// Package mfs implements a mutable file tree over a content-addressed block store.
//
// Every file and directory is a block (or, for file content, several)
// named by its hash,
// so a whole tree is named by the hash of its root directory.
// An FS keeps track of one current root
// and replaces it on every mutation.
// Any other tree in the block store can be read,
// but not written,
// beneath the path prefix notesync.ResolvePrefix.
package mfs

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var _ notesync.Store = &FS{}

// FS is a mutable file tree.
// Each method is atomic with respect to the root.
type FS struct {
	mu     sync.Mutex
	blocks blob.Store
	root   Root
}

// New produces an FS storing blocks in s,
// with its current root kept by r.
// If r has no root yet,
// New stores an empty directory and makes that the root.
func New(ctx context.Context, s blob.Store, r Root) (*FS, error) {
	fs := &FS{blocks: s, root: r}
	err := fs.mutate(ctx, func(h notesync.Hash) (notesync.Hash, error) {
		if !h.IsZero() {
			return h, nil
		}
		return putNode(ctx, s, newDirNode())
	})
	return fs, errors.Wrap(err, "initializing root")
}

// Blocks is the block store beneath fs.
func (fs *FS) Blocks() blob.Store {
	return fs.blocks
}

// Root returns the hash of the current root directory.
func (fs *FS) Root(ctx context.Context) (notesync.Hash, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.root.Get(ctx)
}

// Close releases the root keeper and the block store, if they need it.
func (fs *FS) Close() error {
	var err error
	if c, ok := fs.root.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := fs.blocks.(io.Closer); ok {
		if err2 := c.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// mutate replaces the root with the result of f,
// holding both the in-process mutex and the root keeper's lock, if it has one.
func (fs *FS) mutate(ctx context.Context, f func(notesync.Hash) (notesync.Hash, error)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if l, ok := fs.root.(Locker); ok {
		unlock, err := l.Lock(ctx)
		if err != nil {
			return errors.Wrap(err, "locking root")
		}
		defer unlock()
	}

	old, err := fs.root.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "getting root")
	}
	h, err := f(old)
	if err != nil {
		return err
	}
	if h == old {
		return nil
	}
	return errors.Wrap(fs.root.Set(ctx, h), "setting root")
}

// location is a parsed path:
// a base tree and the names leading from it.
type location struct {
	base     notesync.Hash
	resolved bool // base comes from the resolve view, not the current root
	elems    []string
}

func splitPath(path string) []string {
	var result []string
	for _, p := range strings.Split(path, "/") {
		if p != "" && p != "." {
			result = append(result, p)
		}
	}
	return result
}

// parse interprets path.
// Callers must hold fs.mu when the path may refer to the current root.
func (fs *FS) parse(ctx context.Context, path string) (location, error) {
	elems := splitPath(path)
	if strings.HasPrefix(path, notesync.ResolvePrefix) || path == strings.TrimSuffix(notesync.ResolvePrefix, "/") {
		if len(elems) < 2 {
			return location{}, errors.Wrapf(notesync.ErrNotFound, "%s: no hash", path)
		}
		h, err := notesync.HashFromHex(elems[1])
		if err != nil {
			return location{}, errors.Wrapf(notesync.ErrNotFound, "%s: %s", path, err)
		}
		return location{base: h, resolved: true, elems: elems[2:]}, nil
	}
	root, err := fs.root.Get(ctx)
	if err != nil {
		return location{}, errors.Wrap(err, "getting root")
	}
	return location{base: root, elems: elems}, nil
}

// lookup finds the entry at elems beneath the directory base.
func (fs *FS) lookup(ctx context.Context, base notesync.Hash, elems []string) (notesync.Entry, error) {
	n, err := getNode(ctx, fs.blocks, base)
	if err != nil {
		return notesync.Entry{}, err
	}
	e := notesync.Entry{Type: notesync.TypeDir, Hash: base, Size: n.dirSize()}
	for i, name := range elems {
		if !n.dir {
			return notesync.Entry{}, errors.Wrapf(notesync.ErrNotFound, "%s is not a directory", strings.Join(elems[:i], "/"))
		}
		child, ok := n.entries[name]
		if !ok {
			return notesync.Entry{}, errors.Wrapf(notesync.ErrNotFound, "/%s", strings.Join(elems[:i+1], "/"))
		}
		e = child
		if i < len(elems)-1 {
			if n, err = getNode(ctx, fs.blocks, e.Hash); err != nil {
				return notesync.Entry{}, err
			}
		}
	}
	return e, nil
}

func (fs *FS) stat(ctx context.Context, path string) (notesync.Entry, error) {
	loc, err := fs.parse(ctx, path)
	if err != nil {
		return notesync.Entry{}, err
	}
	e, err := fs.lookup(ctx, loc.base, loc.elems)
	if err != nil {
		return notesync.Entry{}, err
	}
	if len(loc.elems) > 0 {
		e.Name = loc.elems[len(loc.elems)-1]
	}
	return e, nil
}

// Stat implements notesync.Store.
func (fs *FS) Stat(ctx context.Context, path string) (notesync.Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.stat(ctx, path)
}

// Ls implements notesync.Store.
func (fs *FS) Ls(ctx context.Context, path string) ([]notesync.Entry, error) {
	fs.mu.Lock()
	e, err := fs.stat(ctx, path)
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !e.IsDir() {
		return nil, errors.Errorf("%s is not a directory", path)
	}
	n, err := getNode(ctx, fs.blocks, e.Hash)
	if err != nil {
		return nil, err
	}
	return n.sortedEntries(), nil
}

// Read implements notesync.Store.
// The content is fetched from the block store lazily, one chunk at a time.
func (fs *FS) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fs.mu.Lock()
	e, err := fs.stat(ctx, path)
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	n, err := getNode(ctx, fs.blocks, e.Hash)
	if err != nil {
		return nil, err
	}
	return &reader{ctx: ctx, g: fs.blocks, chunks: n.chunks}, nil
}

type reader struct {
	ctx    context.Context
	g      blob.Getter
	chunks []notesync.Hash
	buf    []byte
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if len(r.chunks) == 0 {
			return 0, io.EOF
		}
		b, err := r.g.Get(r.ctx, r.chunks[0])
		if err != nil {
			return 0, errors.Wrapf(err, "getting chunk %s", r.chunks[0])
		}
		r.buf, r.chunks = b, r.chunks[1:]
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *reader) Close() error { return nil }

func (fs *FS) readAll(ctx context.Context, h notesync.Hash) ([]byte, error) {
	n, err := getNode(ctx, fs.blocks, h)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(&reader{ctx: ctx, g: fs.blocks, chunks: n.chunks})
}

// update rebuilds the directory dir with the entry at elems replaced by the result of f,
// returning the new directory's entry.
// The function f receives the existing entry, or nil,
// and returns the replacement, or nil to remove it.
func (fs *FS) update(ctx context.Context, dir notesync.Hash, elems []string, parents bool, f func(*notesync.Entry) (*notesync.Entry, error)) (notesync.Entry, error) {
	var n *node
	if dir.IsZero() {
		n = newDirNode()
	} else {
		var err error
		if n, err = getNode(ctx, fs.blocks, dir); err != nil {
			return notesync.Entry{}, err
		}
		if !n.dir {
			return notesync.Entry{}, errors.Errorf("node %s is not a directory", dir)
		}
	}

	name := elems[0]
	var existing *notesync.Entry
	if e, ok := n.entries[name]; ok {
		existing = &e
	}

	var replacement *notesync.Entry
	if len(elems) == 1 {
		var err error
		if replacement, err = f(existing); err != nil {
			return notesync.Entry{}, err
		}
	} else {
		var sub notesync.Hash
		switch {
		case existing == nil && !parents:
			return notesync.Entry{}, errors.Wrapf(notesync.ErrNotFound, "%s", name)
		case existing == nil:
			// sub stays zero: update creates the directory
		case !existing.IsDir():
			return notesync.Entry{}, errors.Errorf("%s is not a directory", name)
		default:
			sub = existing.Hash
		}
		e, err := fs.update(ctx, sub, elems[1:], parents, f)
		if err != nil {
			return notesync.Entry{}, errors.Wrapf(err, "in %s", name)
		}
		replacement = &e
	}

	if replacement == nil {
		delete(n.entries, name)
	} else {
		replacement.Name = name
		n.entries[name] = *replacement
	}
	h, err := putNode(ctx, fs.blocks, n)
	if err != nil {
		return notesync.Entry{}, err
	}
	return notesync.Entry{Type: notesync.TypeDir, Hash: h, Size: n.dirSize()}, nil
}

// modify applies f at path beneath the current root.
func (fs *FS) modify(ctx context.Context, path string, parents bool, f func(*notesync.Entry) (*notesync.Entry, error)) error {
	if strings.HasPrefix(path, notesync.ResolvePrefix) {
		return errors.Wrapf(notesync.ErrReadOnly, "%s", path)
	}
	elems := splitPath(path)
	if len(elems) == 0 {
		return errors.New("cannot modify the root directory")
	}
	return fs.mutate(ctx, func(root notesync.Hash) (notesync.Hash, error) {
		e, err := fs.update(ctx, root, elems, parents, f)
		return e.Hash, err
	})
}

// Write implements notesync.Store.
// Without opts.Truncate, the new content overwrites the start of any existing content
// and the remainder is kept.
func (fs *FS) Write(ctx context.Context, path string, r io.Reader, opts notesync.WriteOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "reading content for %s", path)
	}
	return fs.modify(ctx, path, opts.Parents, func(existing *notesync.Entry) (*notesync.Entry, error) {
		if existing == nil && !opts.Create {
			return nil, errors.Wrapf(notesync.ErrNotFound, "%s", path)
		}
		if existing != nil && existing.IsDir() {
			return nil, errors.Errorf("%s is a directory", path)
		}
		content := data
		if existing != nil && !opts.Truncate {
			old, err := fs.readAll(ctx, existing.Hash)
			if err != nil {
				return nil, errors.Wrapf(err, "reading existing %s", path)
			}
			if len(old) > len(data) {
				content = append(bytes.Clone(data), old[len(data):]...)
			}
		}
		e, err := putFile(ctx, fs.blocks, content)
		return &e, err
	})
}

// Cp implements notesync.Store.
// The source may be in the resolve view;
// the destination must not exist.
func (fs *FS) Cp(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	return fs.cp(ctx, from, to, opts, false)
}

// Mv implements notesync.Store.
func (fs *FS) Mv(ctx context.Context, from, to string, opts notesync.CpOptions) error {
	if strings.HasPrefix(from, notesync.ResolvePrefix) {
		return errors.Wrapf(notesync.ErrReadOnly, "%s", from)
	}
	return fs.cp(ctx, from, to, opts, true)
}

func (fs *FS) cp(ctx context.Context, from, to string, opts notesync.CpOptions, remove bool) error {
	if strings.HasPrefix(to, notesync.ResolvePrefix) {
		return errors.Wrapf(notesync.ErrReadOnly, "%s", to)
	}
	toElems := splitPath(to)
	if len(toElems) == 0 {
		return errors.New("cannot replace the root directory")
	}
	fromElems := splitPath(from)
	if remove && len(fromElems) == 0 {
		return errors.New("cannot move the root directory")
	}

	return fs.mutate(ctx, func(root notesync.Hash) (notesync.Hash, error) {
		loc, err := fs.parse(ctx, from)
		if err != nil {
			return notesync.Zero, err
		}
		src, err := fs.lookup(ctx, loc.base, loc.elems)
		if err != nil {
			return notesync.Zero, errors.Wrapf(err, "source %s", from)
		}

		if remove {
			e, err := fs.update(ctx, root, fromElems, false, func(*notesync.Entry) (*notesync.Entry, error) {
				return nil, nil
			})
			if err != nil {
				return notesync.Zero, errors.Wrapf(err, "removing %s", from)
			}
			root = e.Hash
		}

		e, err := fs.update(ctx, root, toElems, opts.Parents, func(existing *notesync.Entry) (*notesync.Entry, error) {
			if existing != nil {
				return nil, errors.Errorf("%s already exists", to)
			}
			return &src, nil
		})
		return e.Hash, err
	})
}

// Rm implements notesync.Store.
func (fs *FS) Rm(ctx context.Context, path string, opts notesync.RmOptions) error {
	return fs.modify(ctx, path, false, func(existing *notesync.Entry) (*notesync.Entry, error) {
		if existing == nil {
			return nil, errors.Wrapf(notesync.ErrNotFound, "%s", path)
		}
		if existing.IsDir() && !opts.Recursive {
			return nil, errors.Errorf("%s is a directory", path)
		}
		return nil, nil
	})
}
