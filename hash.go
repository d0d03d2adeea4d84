package notesync

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// Hash is the content hash of a block, file, or directory tree:
// the sha256 digest of its encoding.
type Hash [sha256.Size]byte

// Zero is the zero value of a Hash.
var Zero Hash

// HashOf computes the Hash of a byte sequence.
func HashOf(b []byte) Hash {
	return sha256.Sum256(b)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Zero
}

func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// FromHex parses s into h.
func (h *Hash) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return errors.New("wrong length")
	}
	_, err := hex.Decode(h[:], []byte(s))
	return err
}

func HashFromBytes(b []byte) Hash {
	var out Hash
	copy(out[:], b)
	return out
}

func HashFromHex(s string) (Hash, error) {
	var out Hash
	err := out.FromHex(s)
	return out, errors.Wrapf(err, "parsing hash %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	return h.FromHex(string(text))
}

// Value implements driver.Valuer,
// storing a Hash as its raw bytes.
func (h Hash) Value() (driver.Value, error) {
	return h[:], nil
}

// Scan implements sql.Scanner.
func (h *Hash) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Hash", src)
	}
	if len(b) != len(h) {
		return fmt.Errorf("cannot scan %d bytes into Hash", len(b))
	}
	copy(h[:], b)
	return nil
}
