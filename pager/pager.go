// Package pager answers cursor-bounded queries over the date-bucketed object hierarchy:
// "the N objects before X", "the N objects after X", "the N most recent objects".
//
// It walks the hierarchy lazily, one directory listing at a time,
// and stops as soon as it has enough objects,
// so a page costs a few listings no matter how large the collection.
package pager

import (
	"context"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/objectid"
)

// DefaultLimit is the page size when a Query has none.
const DefaultLimit = 20

// Query describes one page.
// At most one of Before and After may be set;
// with neither, the page is the most recent objects.
type Query struct {
	Before *objectid.ID
	After  *objectid.ID
	Limit  int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// descending tells whether a walk for q visits objects newest first.
func (q Query) descending() bool {
	return q.After == nil
}

// Validate reports ErrInvalidQuery for a query with both boundaries.
func (q Query) Validate() error {
	if q.Before != nil && q.After != nil {
		return errors.Wrap(notesync.ErrInvalidQuery, "both before and after set")
	}
	return nil
}

// Pager pages through the objects beneath one directory.
type Pager struct {
	s    notesync.Store
	root string
	loc  *time.Location
}

// New produces a Pager for the date-bucketed hierarchy at root in s.
// The location must be the one the hierarchy's buckets were made in;
// nil means time.Local.
func New(s notesync.Store, root string, loc *time.Location) *Pager {
	if loc == nil {
		loc = time.Local
	}
	return &Pager{s: s, root: notesync.JoinPath(root), loc: loc}
}

// Objects returns the page described by q,
// oldest first.
func (p *Pager) Objects(ctx context.Context, q Query) ([]objectid.ID, error) {
	var ids []objectid.ID
	for id, err := range p.Walk(ctx, q) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return Ascending(q, ids), nil
}

// Ascending puts the ids produced by a walk for q into oldest-first order.
func Ascending(q Query, ids []objectid.ID) []objectid.ID {
	if q.descending() {
		slices.Reverse(ids)
	}
	return ids
}

const idLevel = objectid.BucketDepth

// frame is one directory on the walk's stack.
type frame struct {
	path       string
	level      int
	names      []string
	next       int
	onBoundary bool // the path so far equals the boundary's prefix
}

// Walk produces the ids of the page described by q
// in walk order:
// newest first for Before queries and queries with no boundary,
// oldest first for After queries.
// The boundary itself is never included.
func (p *Pager) Walk(ctx context.Context, q Query) iter.Seq2[objectid.ID, error] {
	return func(yield func(objectid.ID, error) bool) {
		if err := q.Validate(); err != nil {
			yield(objectid.ID{}, err)
			return
		}

		var (
			limit    = q.limit()
			count    int
			boundary []string
		)
		switch {
		case q.Before != nil:
			y, m, d := q.Before.Bucket(p.loc)
			boundary = []string{y, m, d, q.Before.String()}
		case q.After != nil:
			y, m, d := q.After.Bucket(p.loc)
			boundary = []string{y, m, d, q.After.String()}
		}

		top, err := p.list(ctx, q, boundary, p.root, 0, boundary != nil)
		if err != nil {
			yield(objectid.ID{}, err)
			return
		}
		stack := []*frame{top}

		for len(stack) > 0 {
			f := stack[len(stack)-1]
			if f.next >= len(f.names) {
				stack = stack[:len(stack)-1]
				continue
			}
			name := f.names[f.next]
			f.next++

			if f.level == idLevel {
				id, err := objectid.Parse(name)
				if err != nil {
					continue
				}
				if !yield(id, nil) {
					return
				}
				count++
				if count >= limit {
					return
				}
				continue
			}

			onBoundary := f.onBoundary && name == boundary[f.level]
			child, err := p.list(ctx, q, boundary, notesync.JoinPath(f.path, name), f.level+1, onBoundary)
			if err != nil {
				yield(objectid.ID{}, err)
				return
			}
			stack = append(stack, child)
		}
	}
}

// list reads one directory of the hierarchy,
// keeping the conforming names on the right side of the boundary,
// sorted in walk order.
// A missing directory is empty.
func (p *Pager) list(ctx context.Context, q Query, boundary []string, path string, level int, onBoundary bool) (*frame, error) {
	f := &frame{path: path, level: level, onBoundary: onBoundary}

	entries, err := p.s.Ls(ctx, path)
	if notesync.IsNotFound(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", path)
	}

	for _, e := range entries {
		if !e.IsDir() || !conforms(level, e.Name) {
			continue
		}
		if onBoundary && !keep(q, level, e.Name, boundary[level]) {
			continue
		}
		f.names = append(f.names, e.Name)
	}

	if q.descending() {
		sort.Sort(sort.Reverse(sort.StringSlice(f.names)))
	} else {
		sort.Strings(f.names)
	}
	return f, nil
}

func conforms(level int, name string) bool {
	if level == idLevel {
		return objectid.Valid(name)
	}
	return objectid.ValidBucket(level, name)
}

// keep is the boundary predicate for one name at one level,
// applied only while the walk is on the boundary's own prefix.
// Date levels keep the boundary's bucket itself;
// the id level excludes the boundary id.
func keep(q Query, level int, name, bound string) bool {
	if q.Before != nil {
		if level == idLevel {
			return name < bound
		}
		return name <= bound
	}
	if level == idLevel {
		return name > bound
	}
	return name >= bound
}
