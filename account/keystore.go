package account

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/seal"
	"github.com/bobg/notesync/watchdog"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// IDOf computes the account id belonging to a public key.
func IDOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "k" + strings.ToLower(idEncoding.EncodeToString(sum[:]))
}

// accountKey derives the cipher that seals the account's private key
// and its objects' passwords.
func accountKey(id, password string, memory uint32) (*seal.Cipher, error) {
	k := argon2.IDKey([]byte(password), []byte(id), 1, memory, 4, 32)
	return seal.New(k)
}

func keystorePath(id string, elems ...string) string {
	return notesync.JoinPath(append([]string{id, notesync.KeystoreDir}, elems...)...)
}

func newKeystore(ctx context.Context, s notesync.Store, password string, memory uint32) (string, *seal.Cipher, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, errors.Wrap(err, "generating keypair")
	}
	id := IDOf(pub)

	key, err := accountKey(id, password, memory)
	if err != nil {
		return "", nil, err
	}
	sealed, err := key.Seal(priv)
	if err != nil {
		return "", nil, errors.Wrap(err, "sealing private key")
	}

	opts := notesync.WriteOptions{Create: true, Truncate: true, Parents: true}
	if err = s.Write(ctx, keystorePath(id, notesync.PublicKey), bytes.NewReader(pub), opts); err != nil {
		return "", nil, errors.Wrap(err, "writing public key")
	}
	if err = s.Write(ctx, keystorePath(id, notesync.PrivateKey), bytes.NewReader(sealed), opts); err != nil {
		return "", nil, errors.Wrap(err, "writing private key")
	}
	return id, key, nil
}

// fetchKeystore copies the keystore of id from its published snapshot
// if the local tree lacks one.
func fetchKeystore(ctx context.Context, s notesync.Store, names Names, wd *watchdog.Watchdog, id string) error {
	_, err := s.Stat(ctx, keystorePath(id))
	if err == nil {
		return nil
	}
	if !notesync.IsNotFound(err) {
		return errors.Wrapf(err, "checking keystore of %s", id)
	}

	res, err := watchdog.Do(ctx, wd, func(ctx context.Context) (resolved, error) {
		h, ok, err := names.Resolve(ctx, id)
		return resolved{hash: h, ok: ok}, err
	})
	if err != nil {
		return errors.Wrapf(err, "resolving %s", id)
	}
	if !res.ok {
		return errors.Wrapf(notesync.ErrAccountNotFound, "%s", id)
	}

	err = watchdog.NewStore(s, wd).Cp(ctx, notesync.ResolvePath(res.hash, notesync.KeystoreDir), keystorePath(id), notesync.CpOptions{Parents: true})
	if notesync.IsNotFound(err) {
		return errors.Wrapf(notesync.ErrAccountNotFound, "no keystore in snapshot %s of %s", res.hash, id)
	}
	return errors.Wrapf(err, "copying keystore of %s", id)
}

// openKeystore checks the password against the local keystore of id
// and the keystore against id.
func openKeystore(ctx context.Context, s notesync.Store, id, password string, memory uint32) (*seal.Cipher, error) {
	pub, err := readAll(ctx, s, keystorePath(id, notesync.PublicKey))
	if err != nil {
		return nil, errors.Wrap(err, "reading public key")
	}
	if len(pub) != ed25519.PublicKeySize || IDOf(pub) != id {
		return nil, errors.Wrapf(notesync.ErrKeystoreCorrupted, "public key does not match %s", id)
	}

	sealed, err := readAll(ctx, s, keystorePath(id, notesync.PrivateKey))
	if err != nil {
		return nil, errors.Wrap(err, "reading private key")
	}
	key, err := accountKey(id, password, memory)
	if err != nil {
		return nil, err
	}
	priv, err := key.Open(sealed)
	if err != nil {
		return nil, errors.Wrap(err, "opening private key")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(notesync.ErrKeystoreCorrupted, "private key of %s has length %d", id, len(priv))
	}
	if !ed25519.PublicKey(pub).Equal(ed25519.PrivateKey(priv).Public()) {
		return nil, errors.Wrapf(notesync.ErrKeystoreCorrupted, "private key of %s does not match its public key", id)
	}
	return key, nil
}

func readAll(ctx context.Context, s notesync.Store, path string) ([]byte, error) {
	r, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
