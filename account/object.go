package account

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/objectid"
	"github.com/bobg/notesync/seal"
)

// PasswordLength is the length of generated object passwords.
const PasswordLength = 32

// Info is an object's sealed metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Object is one note:
// a directory of sealed payload files plus sidecars,
// at a path derived from its id.
// Each payload is sealed under the object's own password,
// which is generated on first use and kept sealed under the account key.
type Object struct {
	a    *Account
	id   objectid.ID
	path string

	flight singleflight.Group

	mu        sync.Mutex
	gen       uint64 // bumped by forget
	password  string
	cipher    *seal.Cipher
	info      *Info
	updatedAt *time.Time
}

func (o *Object) ID() objectid.ID { return o.id }

// Path is the object's directory in the local store.
func (o *Object) Path() string { return o.path }

// Password returns the object's password,
// creating it if the object has none.
// Concurrent callers share one read-or-create.
func (o *Object) Password(ctx context.Context) (string, error) {
	k, err := o.unlock(ctx)
	return k.password, err
}

type objectKey struct {
	password string
	cipher   *seal.Cipher
}

// unlock returns the object's password and its cipher,
// loading them once per generation of the cache.
// The load is shared, so it runs detached from any one caller's cancellation.
func (o *Object) unlock(ctx context.Context) (objectKey, error) {
	o.mu.Lock()
	if o.cipher != nil {
		k := objectKey{password: o.password, cipher: o.cipher}
		o.mu.Unlock()
		return k, nil
	}
	gen := o.gen
	o.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		pw, err := o.loadPassword(loadCtx)
		if err != nil {
			return nil, err
		}
		c, err := seal.New([]byte(pw))
		if err != nil {
			return nil, err
		}
		k := objectKey{password: pw, cipher: c}

		o.mu.Lock()
		if o.gen == gen {
			o.password, o.cipher = pw, c
		}
		o.mu.Unlock()
		return k, nil
	})

	select {
	case <-ctx.Done():
		return objectKey{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return objectKey{}, res.Err
		}
		return res.Val.(objectKey), nil
	}
}

func (o *Object) getCipher(ctx context.Context) (*seal.Cipher, error) {
	k, err := o.unlock(ctx)
	return k.cipher, err
}

func (o *Object) loadPassword(ctx context.Context) (string, error) {
	path := notesync.JoinPath(o.path, notesync.PasswordFile)

	sealed, err := readAll(ctx, o.a.local, path)
	if err == nil {
		pw, err := o.a.key.Open(sealed)
		if err != nil {
			return "", errors.Wrapf(err, "opening password of %s", o.id)
		}
		return string(pw), nil
	}
	if !notesync.IsNotFound(err) {
		return "", errors.Wrapf(err, "reading password of %s", o.id)
	}

	pw, err := seal.RandomPassword(PasswordLength)
	if err != nil {
		return "", err
	}
	sealed, err = o.a.key.Seal([]byte(pw))
	if err != nil {
		return "", errors.Wrapf(err, "sealing password of %s", o.id)
	}
	err = o.a.local.Write(ctx, path, bytes.NewReader(sealed), notesync.WriteOptions{Create: true, Truncate: true, Parents: true})
	return pw, errors.Wrapf(err, "writing password of %s", o.id)
}

func checkName(name string) error {
	switch {
	case name == "", strings.Contains(name, "/"):
		return errors.Errorf("bad payload name %q", name)
	case name == notesync.PasswordFile, name == notesync.MtimeFile, name == notesync.InfoFile:
		return errors.Errorf("%s is reserved", name)
	}
	return nil
}

// Read returns the payload with the given name.
func (o *Object) Read(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return o.open(ctx, name)
}

func (o *Object) open(ctx context.Context, name string) ([]byte, error) {
	c, err := o.getCipher(ctx)
	if err != nil {
		return nil, err
	}
	sealed, err := readAll(ctx, o.a.local, notesync.JoinPath(o.path, name))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s of %s", name, o.id)
	}
	b, err := c.Open(sealed)
	return b, errors.Wrapf(err, "opening %s of %s", name, o.id)
}

// Write seals data and stores it as the payload with the given name,
// then schedules a sync.
func (o *Object) Write(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.Errorf("empty payload %s", name)
	}
	return o.seal(ctx, name, data)
}

func (o *Object) seal(ctx context.Context, name string, data []byte) error {
	c, err := o.getCipher(ctx)
	if err != nil {
		return err
	}
	sealed, err := c.Seal(data)
	if err != nil {
		return errors.Wrapf(err, "sealing %s of %s", name, o.id)
	}
	err = o.a.local.Write(ctx, notesync.JoinPath(o.path, name), bytes.NewReader(sealed), notesync.WriteOptions{Create: true, Truncate: true, Parents: true})
	if err != nil {
		return errors.Wrapf(err, "writing %s of %s", name, o.id)
	}
	if err = o.touch(ctx); err != nil {
		return err
	}
	o.a.debounce.trigger()
	return nil
}

// touch records the current time in the mtime sidecar.
func (o *Object) touch(ctx context.Context) error {
	now := time.Now()
	ms := now.UnixMilli()
	err := o.a.local.Write(ctx, notesync.JoinPath(o.path, notesync.MtimeFile), strings.NewReader(strconv.FormatInt(ms, 10)), notesync.WriteOptions{Create: true, Truncate: true, Parents: true})
	if err != nil {
		return errors.Wrapf(err, "writing mtime of %s", o.id)
	}
	t := time.UnixMilli(ms)
	o.mu.Lock()
	o.updatedAt = &t
	o.mu.Unlock()
	return nil
}

// Info returns the object's metadata.
// An object without any has the zero Info.
func (o *Object) Info(ctx context.Context) (Info, error) {
	o.mu.Lock()
	if o.info != nil {
		info := *o.info
		o.mu.Unlock()
		return info, nil
	}
	o.mu.Unlock()

	var info Info
	b, err := o.open(ctx, notesync.InfoFile)
	if notesync.IsNotFound(err) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	if err = json.Unmarshal(b, &info); err != nil {
		return info, errors.Wrapf(err, "decoding info of %s", o.id)
	}

	o.mu.Lock()
	o.info = &info
	o.mu.Unlock()
	return info, nil
}

// SetInfo replaces the object's metadata.
func (o *Object) SetInfo(ctx context.Context, info Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "encoding info")
	}
	if err = o.seal(ctx, notesync.InfoFile, b); err != nil {
		return err
	}
	o.mu.Lock()
	o.info = &info
	o.mu.Unlock()
	return nil
}

// UpdatedAt is the time of the object's last write,
// or the zero time if it has never been written.
func (o *Object) UpdatedAt(ctx context.Context) (time.Time, error) {
	o.mu.Lock()
	if o.updatedAt != nil {
		t := *o.updatedAt
		o.mu.Unlock()
		return t, nil
	}
	o.mu.Unlock()

	b, err := readAll(ctx, o.a.local, notesync.JoinPath(o.path, notesync.MtimeFile))
	if notesync.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading mtime of %s", o.id)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing mtime of %s", o.id)
	}
	t := time.UnixMilli(ms)

	o.mu.Lock()
	o.updatedAt = &t
	o.mu.Unlock()
	return t, nil
}

// forget drops everything cached about the object,
// after a merge may have replaced its directory.
func (o *Object) forget() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.password, o.cipher, o.info, o.updatedAt = "", nil, nil, nil
}
