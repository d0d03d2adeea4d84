// Package seal encrypts and decrypts payloads with AES-GCM under a secret.
//
// The AES key is the sha256 of the secret.
// New ciphertexts carry a random nonce
// (format v1: a version byte, the nonce, then the GCM output).
// Older data used a nonce derived from the key and the secret,
// so equal plaintexts produced equal ciphertexts;
// that format can still be read,
// and written when Deterministic is given.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

const (
	versionV1 = 0x01
	nonceSize = 12
)

// Cipher seals and opens payloads under one secret.
type Cipher struct {
	aead          cipher.AEAD
	legacyNonce   []byte
	deterministic bool
}

// Option configures a Cipher.
type Option func(*Cipher)

// Deterministic makes Seal write the legacy deterministic-nonce format.
func Deterministic() Option {
	return func(c *Cipher) {
		c.deterministic = true
	}
}

// New produces a Cipher for the given secret.
func New(secret []byte, opts ...Option) (*Cipher, error) {
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "creating AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCM")
	}

	ivSrc := sha256.Sum256([]byte(hex.EncodeToString(key[:]) + string(secret)))

	c := &Cipher{
		aead:        aead,
		legacyNonce: ivSrc[:nonceSize],
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Seal encrypts plaintext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if c.deterministic {
		return c.aead.Seal(nil, c.legacyNonce, plaintext, nil), nil
	}

	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = versionV1
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}
	return c.aead.Seal(out, out[1:1+nonceSize], plaintext, nil), nil
}

// Open decrypts a ciphertext in either format.
// Every failure is reported as notesync.ErrDecryption,
// including a successful decryption of an empty plaintext.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > 1+nonceSize && ciphertext[0] == versionV1 {
		plaintext, err := c.aead.Open(nil, ciphertext[1:1+nonceSize], ciphertext[1+nonceSize:], nil)
		if err == nil {
			return nonEmpty(plaintext)
		}
	}
	plaintext, err := c.aead.Open(nil, c.legacyNonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(notesync.ErrDecryption, err.Error())
	}
	return nonEmpty(plaintext)
}

func nonEmpty(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.Wrap(notesync.ErrDecryption, "empty plaintext")
	}
	return plaintext, nil
}

const passwordAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// RandomPassword produces a random password of n characters.
func RandomPassword(n int) (string, error) {
	var (
		buf = make([]byte, n)
		max = big.NewInt(int64(len(passwordAlphabet)))
	)
	for i := range buf {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "generating password")
		}
		buf[i] = passwordAlphabet[k.Int64()]
	}
	return string(buf), nil
}
