// Package objectid implements the identifiers of notes.
//
// An ID is a creation timestamp in milliseconds plus a five-character random nonce.
// Its canonical string form, "<millis>-<nonce>",
// is the note's directory name on disk and its cache key,
// and canonical strings sort in creation order.
//
// Ordering is lexicographic on the canonical string,
// so it agrees with chronological order only while timestamps have the same number of digits
// (13 digits covers 2001 through 2286).
package objectid

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

// Alphabet is the set of nonce symbols.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NonceLen is the length of a nonce.
const NonceLen = 5

var grammar = regexp.MustCompile(`^(\d+)-([0-9A-Z]{5})$`)

// ID identifies a note.
type ID struct {
	CreatedAt int64 // milliseconds since the epoch
	Nonce     string
}

// Create produces a new ID for the current time with a random nonce.
func Create() ID {
	return ID{CreatedAt: time.Now().UnixMilli(), Nonce: RandomNonce()}
}

// New produces an ID for the given time and nonce.
// An empty nonce means a random one.
func New(t time.Time, nonce string) (ID, error) {
	if nonce == "" {
		nonce = RandomNonce()
	}
	id := ID{CreatedAt: t.UnixMilli(), Nonce: nonce}
	if !Valid(id.String()) {
		return ID{}, errors.Wrapf(notesync.ErrInvalidObjectID, "nonce %q", nonce)
	}
	return id, nil
}

// RandomNonce produces a random string of NonceLen symbols from Alphabet.
func RandomNonce() string {
	var (
		buf = make([]byte, NonceLen)
		max = big.NewInt(int64(len(Alphabet)))
	)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand does not fail on supported platforms
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf)
}

// Parse parses a canonical ID string.
func Parse(s string) (ID, error) {
	m := grammar.FindStringSubmatch(s)
	if m == nil {
		return ID{}, errors.Wrapf(notesync.ErrInvalidObjectID, "%q", s)
	}
	if len(m[1]) > 1 && m[1][0] == '0' {
		// Leading zeroes would break the round trip.
		return ID{}, errors.Wrapf(notesync.ErrInvalidObjectID, "%q has a zero-padded timestamp", s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ID{}, errors.Wrapf(notesync.ErrInvalidObjectID, "%q: %s", s, err)
	}
	return ID{CreatedAt: ms, Nonce: m[2]}, nil
}

// Valid tells whether s is a canonical ID string.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func (id ID) String() string {
	return strconv.FormatInt(id.CreatedAt, 10) + "-" + id.Nonce
}

func (id ID) IsZero() bool {
	return id == ID{}
}

// Time is the creation time of id.
func (id ID) Time() time.Time {
	return time.UnixMilli(id.CreatedAt)
}

// Compare compares the canonical forms of id and other,
// returning -1, 0, or 1.
func (id ID) Compare(other ID) int {
	return strings.Compare(id.String(), other.String())
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// Bucket is the year/month/day date bucket of id in the given location,
// formatted as path segments ("2023", "11", "14").
func (id ID) Bucket(loc *time.Location) (year, month, day string) {
	if loc == nil {
		loc = time.Local
	}
	t := id.Time().In(loc)
	return t.Format("2006"), t.Format("01"), t.Format("02")
}

// BucketDepth is the number of date levels above an object directory:
// year, month, day.
const BucketDepth = 3

var bucketNames = [BucketDepth]*regexp.Regexp{
	regexp.MustCompile(`^\d{4}$`),
	regexp.MustCompile(`^\d{2}$`),
	regexp.MustCompile(`^\d{2}$`),
}

// ValidBucket tells whether name can be a date bucket directory at the given level
// (0 for the year, 1 the month, 2 the day).
func ValidBucket(level int, name string) bool {
	if level < 0 || level >= BucketDepth {
		return false
	}
	return bucketNames[level].MatchString(name)
}

// Path is the slash-separated date-bucketed path of id beneath a root:
// root/YYYY/MM/DD/<id>.
func (id ID) Path(root string, loc *time.Location) string {
	y, m, d := id.Bucket(loc)
	return notesync.JoinPath(root, y, m, d, id.String())
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
