package notesync

import (
	"context"
	"io"
	"strings"
	"time"
)

// EntryType tells whether a tree entry is a file or a directory.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDir
)

func (t EntryType) String() string {
	if t == TypeDir {
		return "dir"
	}
	return "file"
}

// Entry describes one node of a content-addressed tree.
type Entry struct {
	Name string
	Type EntryType
	Hash Hash
	Size int64
}

func (e Entry) IsDir() bool { return e.Type == TypeDir }

// WriteOptions control Store.Write.
type WriteOptions struct {
	Create   bool // create the file if it does not exist
	Truncate bool // replace existing content rather than overwriting in place
	Parents  bool // create missing parent directories
}

// CpOptions control Store.Cp and Store.Mv.
type CpOptions struct {
	Parents bool
}

// RmOptions control Store.Rm.
type RmOptions struct {
	Recursive bool
}

// ResolvePrefix is the distinguished path prefix of the read-only resolve-by-hash view.
// The path ResolvePrefix + hash.String() + "/a/b" names the entry a/b
// beneath the tree whose hash is hash.
const ResolvePrefix = "/ipfs/"

// ResolvePath produces the resolve-view path for the given hash and optional subpath elements.
func ResolvePath(h Hash, elems ...string) string {
	return JoinPath(append([]string{strings.TrimSuffix(ResolvePrefix, "/"), h.String()}, elems...)...)
}

// JoinPath joins slash-separated path elements into a rooted path.
func JoinPath(elems ...string) string {
	var parts []string
	for _, e := range elems {
		for _, p := range strings.Split(e, "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Store is a mutable view over a content-addressed tree,
// plus a read-only view of any tree by its hash
// (see ResolvePrefix).
//
// Each method is atomic with respect to the tree,
// but there are no transactions spanning calls.
// Methods report missing paths with errors satisfying errors.Is(err, ErrNotFound).
type Store interface {
	// Stat describes the entry at path.
	Stat(ctx context.Context, path string) (Entry, error)

	// Read opens the file at path for reading.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write writes the contents of r to the file at path.
	Write(ctx context.Context, path string, r io.Reader, opts WriteOptions) error

	// Cp copies the entry at from to to.
	// Content addressing makes this cheap: only the hash is copied.
	Cp(ctx context.Context, from, to string, opts CpOptions) error

	// Mv moves the entry at from to to.
	Mv(ctx context.Context, from, to string, opts CpOptions) error

	// Rm removes the entry at path.
	// Directories require opts.Recursive.
	Rm(ctx context.Context, path string, opts RmOptions) error

	// Ls lists the directory at path, sorted by name.
	Ls(ctx context.Context, path string) ([]Entry, error)
}

// PingOptions control Swarm.Ping.
type PingOptions struct {
	Count   int
	Timeout time.Duration
}

// PingResult is the outcome of one ping.
type PingResult struct {
	Success bool
	RTT     time.Duration
	Err     error
}

// Swarm is the peer-to-peer link beneath a Store's resolve view.
type Swarm interface {
	Ping(ctx context.Context, addr string, opts PingOptions) ([]PingResult, error)
	Connect(ctx context.Context, addr string) error
	Disconnect(ctx context.Context, addr string) error
}
