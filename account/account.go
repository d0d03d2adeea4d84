// Package account coordinates one user's encrypted note collection:
// its keys, its objects,
// and the syncs that merge a published snapshot into the local tree
// and publish the result.
package account

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/merge"
	"github.com/bobg/notesync/objectid"
	"github.com/bobg/notesync/pager"
	"github.com/bobg/notesync/seal"
	"github.com/bobg/notesync/watchdog"
)

// ErrStopped is returned by operations on an Account after Stop.
var ErrStopped = errors.New("account stopped")

// Names is the name-resolution service
// mapping an account id to the hash of its last published tree.
// *hub.Publisher implements it.
type Names interface {
	// Resolve returns the published hash for id,
	// and false if nothing was ever published.
	Resolve(ctx context.Context, id string) (notesync.Hash, bool, error)

	// Publish publishes h for id.
	// The hash is the tree at /<id> in the local store,
	// so the implementation must be able to reach its blocks.
	Publish(ctx context.Context, id string, h notesync.Hash, password string) error
}

// Logger is where an Account reports sync failures.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Credentials identify an account.
// An empty ID means a new account.
type Credentials struct {
	ID       string
	Password string
}

// Options configure an Account.
type Options struct {
	// Store is the local tree.
	// Remote snapshots must be reachable through its resolve view.
	// Stop closes it if it is an io.Closer.
	Store notesync.Store

	Names Names

	// Swarm and Peer are the link the watchdog checks when remote operations stall.
	// A nil Swarm disables the checks.
	Swarm notesync.Swarm
	Peer  string

	// Debounce is the window for coalescing write-triggered syncs.
	// The default is 10s.
	// A negative value turns off write-triggered and periodic syncs.
	Debounce time.Duration

	// Refresh, if positive, is the interval of periodic syncs.
	Refresh time.Duration

	// Location is where object date buckets are computed.
	// The default is time.Local.
	Location *time.Location

	// KeyMemory is the argon2 memory cost, in KiB, of the account key.
	// The default is 64 MiB.
	// Every client of an account must use the same value.
	KeyMemory uint32

	Logger          Logger
	WatchdogOptions watchdog.Options
}

func (o Options) withDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = 10 * time.Second
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.KeyMemory == 0 {
		o.KeyMemory = 64 * 1024
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Account is a live handle on one account.
type Account struct {
	id       string
	password string
	key      *seal.Cipher
	opts     Options

	local  notesync.Store  // the store as given
	remote *watchdog.Store // the same store, for operations that may reach the network
	wd     *watchdog.Watchdog
	root   string
	merger *merge.Merger
	pager  *pager.Pager

	flight   singleflight.Group
	debounce *debouncer
	done     chan struct{}

	mu            sync.Mutex
	stopped       bool
	objects       map[string]*Object
	nextListener  int
	syncListeners map[int]func(SyncEvent)
	errListeners  map[int]func(ErrorEvent)
}

// Create opens the account described by creds.
//
// With an empty creds.ID it makes a new account:
// a fresh keypair whose keystore is written to the local tree.
// Otherwise the keystore comes from the local tree,
// or failing that from the published snapshot,
// and ErrAccountNotFound results if there is neither.
// A wrong password is ErrDecryption.
//
// Create does not sync.
func Create(ctx context.Context, creds Credentials, opts Options) (*Account, error) {
	opts = opts.withDefaults()
	if opts.Store == nil || opts.Names == nil {
		return nil, errors.New("store and names are required")
	}
	if creds.Password == "" {
		return nil, errors.New("empty password")
	}

	wd := watchdog.New(opts.Swarm, opts.Peer, opts.WatchdogOptions)

	var (
		id  = creds.ID
		key *seal.Cipher
		err error
	)
	if id == "" {
		id, key, err = newKeystore(ctx, opts.Store, creds.Password, opts.KeyMemory)
		if err != nil {
			return nil, errors.Wrap(err, "creating keystore")
		}
	} else {
		if err = fetchKeystore(ctx, opts.Store, opts.Names, wd, id); err != nil {
			return nil, err
		}
		key, err = openKeystore(ctx, opts.Store, id, creds.Password, opts.KeyMemory)
		if err != nil {
			return nil, err
		}
	}

	remote := watchdog.NewStore(opts.Store, wd)
	root := notesync.JoinPath(id)

	a := &Account{
		id:            id,
		password:      creds.Password,
		key:           key,
		opts:          opts,
		local:         opts.Store,
		remote:        remote,
		wd:            wd,
		root:          root,
		merger:        merge.New(remote, root, merge.Options{Logger: opts.Logger}),
		pager:         pager.New(opts.Store, notesync.JoinPath(root, notesync.ObjectsDir), opts.Location),
		done:          make(chan struct{}),
		objects:       make(map[string]*Object),
		syncListeners: make(map[int]func(SyncEvent)),
		errListeners:  make(map[int]func(ErrorEvent)),
	}
	a.debounce = newDebouncer(opts.Debounce, a.background)
	if opts.Refresh > 0 {
		go a.refresh(opts.Refresh)
	}
	return a, nil
}

// ID is the account identifier.
func (a *Account) ID() string {
	return a.id
}

// Root is the path of the account's tree in the local store.
func (a *Account) Root() string {
	return a.root
}

// Object returns the object with the given id,
// or a new object if id is nil.
// It does not touch the store;
// the object's directory appears on its first write.
func (a *Account) Object(id *objectid.ID) (*Object, error) {
	var oid objectid.ID
	if id == nil {
		oid = objectid.Create()
	} else {
		oid = *id
		if !objectid.Valid(oid.String()) {
			return nil, errors.Wrapf(notesync.ErrInvalidObjectID, "%s", oid)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil, ErrStopped
	}
	key := oid.String()
	if obj, ok := a.objects[key]; ok {
		return obj, nil
	}
	obj := &Object{
		a:    a,
		id:   oid,
		path: oid.Path(notesync.JoinPath(a.root, notesync.ObjectsDir), a.opts.Location),
	}
	a.objects[key] = obj
	return obj, nil
}

// DeleteObject moves an object to the trash.
// Other clients learn of the deletion on their next sync.
func (a *Account) DeleteObject(ctx context.Context, id objectid.ID) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrStopped
	}
	delete(a.objects, id.String())
	a.mu.Unlock()

	var (
		live  = id.Path(notesync.JoinPath(a.root, notesync.ObjectsDir), a.opts.Location)
		trash = id.Path(notesync.JoinPath(a.root, notesync.TrashDir), a.opts.Location)
	)

	if _, err := a.local.Stat(ctx, live); err != nil {
		return errors.Wrapf(err, "deleting %s", id)
	}

	// A stale trash entry for the same id gives way to the newer deletion.
	err := a.local.Rm(ctx, trash, notesync.RmOptions{Recursive: true})
	if err != nil && !notesync.IsNotFound(err) {
		return errors.Wrapf(err, "removing old trash entry for %s", id)
	}
	if err = a.local.Mv(ctx, live, trash, notesync.CpOptions{Parents: true}); err != nil {
		return errors.Wrapf(err, "deleting %s", id)
	}
	a.debounce.trigger()
	return nil
}

// Objects returns a page of object ids, oldest first.
// Each directory listing of the walk is watched for stalls.
func (a *Account) Objects(ctx context.Context, q pager.Query) ([]objectid.ID, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	next, stop := iterPull(a.pager.Walk(ctx, q))
	defer stop()

	var ids []objectid.ID
	for id, err := range watchdog.Pull(ctx, a.wd, next) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return pager.Ascending(q, ids), nil
}

// Stop releases the account.
// Listeners are dropped, timers stopped,
// and the store closed if it is an io.Closer.
// A sync already running is left to finish on its own.
func (a *Account) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.objects = make(map[string]*Object)
	a.syncListeners = make(map[int]func(SyncEvent))
	a.errListeners = make(map[int]func(ErrorEvent))
	a.mu.Unlock()

	a.debounce.stop()
	close(a.done)

	if c, ok := a.local.(io.Closer); ok {
		return errors.Wrap(c.Close(), "closing store")
	}
	return nil
}

func (a *Account) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *Account) refresh(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.debounce.trigger()
		}
	}
}
