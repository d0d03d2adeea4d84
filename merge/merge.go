// Package merge brings a remote snapshot of an account's tree into the local tree.
//
// The merge runs in phases:
// the keystore (copied once, never merged),
// the trash,
// the live objects,
// and finally a sweep removing live objects that now have a trash entry.
// Each phase compares subtree hashes before descending,
// so unchanged branches cost one stat per side.
// Individual objects are whole units:
// the newer one by its plaintext mtime sidecar replaces the other.
package merge

import (
	"context"
	"log"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/metrics"
	"github.com/bobg/notesync/objectid"
)

// Logger is where a Merger reports oddities that do not stop the merge.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Options configure a Merger.
type Options struct {
	// Logger defaults to the standard logger.
	Logger Logger
}

// Report tells what a merge did.
type Report struct {
	Copied      int // object subtrees copied from the remote
	Skipped     int // object subtrees where the local copy was kept
	Swept       int // live objects removed because they are in the trash
	Synthesized int // mtime sidecars written for remote objects that lacked one
}

// Merger merges remote snapshots into the account tree at root.
type Merger struct {
	s    notesync.Store
	root string
	log  Logger
}

// New produces a Merger for the account tree at root in s.
// Remote snapshots are read through the resolve view of the same store.
func New(s notesync.Store, root string, opts Options) *Merger {
	m := &Merger{s: s, root: notesync.JoinPath(root), log: opts.Logger}
	if m.log == nil {
		m.log = log.Default()
	}
	return m
}

// MergeDown merges the remote account tree with hash remote into the local one.
// Any error other than a missing path aborts the merge;
// changes already made stay made.
func (m *Merger) MergeDown(ctx context.Context, remote notesync.Hash) (Report, error) {
	var rep Report

	if err := m.mergeKeystore(ctx, remote); err != nil {
		return rep, errors.Wrap(err, "merging keystore")
	}

	t := &walk{m: m, rep: &rep}
	if err := t.tree(ctx, notesync.JoinPath(m.root, notesync.TrashDir), notesync.ResolvePath(remote, notesync.TrashDir), 0); err != nil {
		return rep, errors.Wrap(err, "merging trash")
	}

	t.synthesize = true
	if err := t.tree(ctx, notesync.JoinPath(m.root, notesync.ObjectsDir), notesync.ResolvePath(remote, notesync.ObjectsDir), 0); err != nil {
		return rep, errors.Wrap(err, "merging objects")
	}

	if err := m.sweep(ctx, &rep); err != nil {
		return rep, errors.Wrap(err, "sweeping deleted objects")
	}
	return rep, nil
}

func (m *Merger) mergeKeystore(ctx context.Context, remote notesync.Hash) error {
	var (
		localPath  = notesync.JoinPath(m.root, notesync.KeystoreDir)
		remotePath = notesync.ResolvePath(remote, notesync.KeystoreDir)
	)
	r, err := stat(ctx, m.s, remotePath)
	if err != nil || !r.found {
		return err
	}
	l, err := stat(ctx, m.s, localPath)
	if err != nil {
		return err
	}
	if !l.found {
		return m.s.Cp(ctx, remotePath, localPath, notesync.CpOptions{Parents: true})
	}
	if l.val.Hash != r.val.Hash {
		return errors.Wrapf(notesync.ErrKeystoreCorrupted, "local keystore %s, remote %s", l.val.Hash, r.val.Hash)
	}
	return nil
}

// walk is the state of one pass over the trash or objects hierarchy.
type walk struct {
	m          *Merger
	rep        *Report
	synthesize bool
}

// tree merges the remote directory into the local one at the given level
// (0 for the top, objectid.BucketDepth for an object directory).
func (t *walk) tree(ctx context.Context, local, remote string, level int) error {
	r, err := stat(ctx, t.m.s, remote)
	if err != nil || !r.found {
		return err
	}
	l, err := stat(ctx, t.m.s, local)
	if err != nil {
		return err
	}
	if l.found && l.val.Hash == r.val.Hash {
		return nil
	}

	entries, err := t.m.s.Ls(ctx, remote)
	if notesync.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "listing %s", remote)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var (
			childLocal  = notesync.JoinPath(local, e.Name)
			childRemote = notesync.JoinPath(remote, e.Name)
		)
		if level < objectid.BucketDepth {
			if !objectid.ValidBucket(level, e.Name) {
				continue
			}
			if err := t.tree(ctx, childLocal, childRemote, level+1); err != nil {
				return err
			}
			continue
		}
		id, err := objectid.Parse(e.Name)
		if err != nil {
			continue
		}
		if err := t.leaf(ctx, id, childLocal, childRemote, e.Hash); err != nil {
			return errors.Wrapf(err, "object %s", id)
		}
	}
	return nil
}

// leaf applies the copy/keep policy to one object directory.
func (t *walk) leaf(ctx context.Context, id objectid.ID, local, remote string, remoteHash notesync.Hash) error {
	var (
		l           lookup[notesync.Entry]
		localMtime  lookup[int64]
		remoteMtime lookup[int64]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		l, err = stat(gctx, t.m.s, local)
		return err
	})
	g.Go(func() (err error) {
		localMtime, err = t.m.readMtime(gctx, notesync.JoinPath(local, notesync.MtimeFile))
		return err
	})
	g.Go(func() (err error) {
		remoteMtime, err = t.m.readMtime(gctx, notesync.JoinPath(remote, notesync.MtimeFile))
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if l.found && l.val.Hash == remoteHash {
		t.skip()
		return nil
	}

	if l.found && remoteMtime.found && localMtime.found && localMtime.val >= remoteMtime.val {
		t.skip()
		return nil
	}

	// A remote object without an mtime replaces the local one,
	// unless the local one is that same object plus the sidecar an earlier merge synthesized.
	if l.found && !remoteMtime.found {
		same, err := t.m.sameApartFromMtime(ctx, local, remote)
		if err != nil {
			return err
		}
		if same {
			t.skip()
			return nil
		}
	}

	if l.found {
		if err := t.m.s.Rm(ctx, local, notesync.RmOptions{Recursive: true}); err != nil && !notesync.IsNotFound(err) {
			return errors.Wrapf(err, "removing %s", local)
		}
	}
	if err := t.m.s.Cp(ctx, remote, local, notesync.CpOptions{Parents: true}); err != nil {
		return errors.Wrapf(err, "copying %s", remote)
	}
	t.rep.Copied++
	metrics.MergeLeaves.WithLabelValues("copied").Inc()

	if t.synthesize && !remoteMtime.found {
		err := t.m.s.Write(ctx, notesync.JoinPath(local, notesync.MtimeFile), strings.NewReader(strconv.FormatInt(id.CreatedAt, 10)), notesync.WriteOptions{Create: true, Truncate: true})
		if err != nil {
			return errors.Wrap(err, "writing mtime")
		}
		t.rep.Synthesized++
		metrics.MergeLeaves.WithLabelValues("synthesized").Inc()
	}
	return nil
}

func (t *walk) skip() {
	t.rep.Skipped++
	metrics.MergeLeaves.WithLabelValues("skipped").Inc()
}

// sweep removes each live object that also appears in the local trash.
func (m *Merger) sweep(ctx context.Context, rep *Report) error {
	var (
		objects = notesync.JoinPath(m.root, notesync.ObjectsDir)
		trash   = notesync.JoinPath(m.root, notesync.TrashDir)
	)

	tr, err := stat(ctx, m.s, trash)
	if err != nil || !tr.found {
		return err
	}

	return m.sweepDir(ctx, objects, trash, 0, rep)
}

func (m *Merger) sweepDir(ctx context.Context, live, trash string, level int, rep *Report) error {
	entries, err := m.s.Ls(ctx, live)
	if notesync.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "listing %s", live)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var (
			childLive  = notesync.JoinPath(live, e.Name)
			childTrash = notesync.JoinPath(trash, e.Name)
		)
		if level < objectid.BucketDepth {
			if !objectid.ValidBucket(level, e.Name) {
				continue
			}
			// No trash bucket here means nothing beneath can be swept.
			tr, err := stat(ctx, m.s, childTrash)
			if err != nil {
				return err
			}
			if !tr.found {
				continue
			}
			if err := m.sweepDir(ctx, childLive, childTrash, level+1, rep); err != nil {
				return err
			}
			continue
		}
		if !objectid.Valid(e.Name) {
			continue
		}
		tr, err := stat(ctx, m.s, childTrash)
		if err != nil {
			return err
		}
		if !tr.found {
			continue
		}
		if err := m.s.Rm(ctx, childLive, notesync.RmOptions{Recursive: true}); err != nil && !notesync.IsNotFound(err) {
			return errors.Wrapf(err, "removing %s", childLive)
		}
		rep.Swept++
		metrics.MergeLeaves.WithLabelValues("swept").Inc()
	}
	return nil
}

// sameApartFromMtime tells whether two object directories have the same entries,
// ignoring their mtime sidecars.
func (m *Merger) sameApartFromMtime(ctx context.Context, a, b string) (bool, error) {
	var ea, eb []notesync.Entry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ea, err = m.s.Ls(gctx, a)
		return errors.Wrapf(err, "listing %s", a)
	})
	g.Go(func() (err error) {
		eb, err = m.s.Ls(gctx, b)
		return errors.Wrapf(err, "listing %s", b)
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	withoutMtime := func(entries []notesync.Entry) []notesync.Entry {
		return slices.DeleteFunc(entries, func(e notesync.Entry) bool { return e.Name == notesync.MtimeFile })
	}
	return slices.Equal(withoutMtime(ea), withoutMtime(eb)), nil
}

// readMtime reads an mtime sidecar.
// An unparseable sidecar counts as missing.
func (m *Merger) readMtime(ctx context.Context, path string) (lookup[int64], error) {
	b, err := readFile(ctx, m.s, path)
	if err != nil || !b.found {
		return lookup[int64]{}, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b.val)), 10, 64)
	if err != nil {
		m.log.Printf("ERROR ignoring bad mtime in %s: %s", path, err)
		return lookup[int64]{}, nil
	}
	return lookup[int64]{val: v, found: true}, nil
}
