// Package anchor is the name registry behind the hub:
// it maps account identifiers to the content hashes most recently published under them,
// and holds the password verifier each account registers on first publish.
//
// An anchor is a name plus a sequence of timestamped hashes.
// Backends keep the whole history;
// GetAnchor reports the latest entry.
package anchor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

// Getter is a read-only Store.
type Getter interface {
	// GetAnchor returns the latest hash published under name, and when it was published.
	// If there is none, the error is notesync.ErrNotFound.
	GetAnchor(ctx context.Context, name string) (notesync.Hash, time.Time, error)

	// GetVerifier returns the password verifier registered for name,
	// or notesync.ErrNotFound.
	GetVerifier(ctx context.Context, name string) ([]byte, error)
}

// Store is a name registry.
type Store interface {
	Getter

	// PutAnchor records h as the value of name as of time at.
	PutAnchor(ctx context.Context, name string, h notesync.Hash, at time.Time) error

	// PutVerifier sets the password verifier for name, replacing any earlier one.
	PutVerifier(ctx context.Context, name string, v []byte) error
}

// Lister is an optional interface for stores that can enumerate their anchors.
type Lister interface {
	// ListAnchors calls f for each name after start, in lexicographic order,
	// with the latest hash and its timestamp.
	ListAnchors(ctx context.Context, start string, f func(name string, h notesync.Hash, at time.Time) error) error
}

// Factory creates a Store from a configuration map.
type Factory func(context.Context, map[string]interface{}) (Store, error)

var registry = make(map[string]Factory)

// Register makes an anchor Store type available to Create under the given key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates an anchor Store of the registered type key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in anchor registry", key)
	}
	s, err := f(ctx, conf)
	return s, errors.Wrapf(err, "creating %s anchor store", key)
}

// Types lists the registered anchor store types.
func Types() []string {
	var result []string
	for k := range registry {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
