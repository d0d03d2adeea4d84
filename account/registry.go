package account

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

// Registry holds the live accounts of a process serving several,
// at most one Account per id.
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*Account
	locks    map[string]*idLock
}

// idLock serializes Create calls for one id.
type idLock struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry() *Registry {
	return &Registry{
		accounts: make(map[string]*Account),
		locks:    make(map[string]*idLock),
	}
}

// Create opens an account as the package-level Create does and registers it.
// If an account with creds.ID is already registered,
// Create returns it,
// provided creds.Password is that account's password
// (ErrDecryption otherwise).
// Calls for different ids do not wait for one another.
func (r *Registry) Create(ctx context.Context, creds Credentials, opts Options) (*Account, error) {
	if creds.ID != "" {
		unlock := r.lock(creds.ID)
		defer unlock()

		if a, ok := r.Lookup(creds.ID); ok {
			if subtle.ConstantTimeCompare([]byte(a.password), []byte(creds.Password)) != 1 {
				return nil, errors.Wrapf(notesync.ErrDecryption, "wrong password for %s", creds.ID)
			}
			return a, nil
		}
	}

	a, err := Create(ctx, creds, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.accounts[a.id] = a
	r.mu.Unlock()
	return a, nil
}

func (r *Registry) lock(id string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// Lookup returns the registered account with the given id.
// An account stopped other than through Remove is dropped here.
func (r *Registry) Lookup(id string) (*Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if ok && a.isStopped() {
		delete(r.accounts, id)
		return nil, false
	}
	return a, ok
}

// Remove stops and unregisters the account with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	a, ok := r.accounts[id]
	delete(r.accounts, id)
	r.mu.Unlock()

	if !ok {
		return errors.Wrapf(notesync.ErrAccountNotFound, "%s", id)
	}
	return a.Stop()
}

// Close stops and unregisters every account.
func (r *Registry) Close() error {
	r.mu.Lock()
	accounts := r.accounts
	r.accounts = make(map[string]*Account)
	r.mu.Unlock()

	var firstErr error
	for id, a := range accounts {
		if err := a.Stop(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "stopping %s", id)
		}
	}
	return firstErr
}
