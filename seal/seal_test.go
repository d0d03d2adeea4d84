package seal

import (
	"bytes"
	"testing"
	"testing/quick"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
)

func TestRoundTrip(t *testing.T) {
	for _, deterministic := range []bool{false, true} {
		var opts []Option
		if deterministic {
			opts = append(opts, Deterministic())
		}
		c, err := New([]byte("correct horse battery staple"), opts...)
		if err != nil {
			t.Fatal(err)
		}
		f := func(plaintext []byte) bool {
			if len(plaintext) == 0 {
				return true
			}
			sealed, err := c.Seal(plaintext)
			if err != nil {
				t.Log(err)
				return false
			}
			got, err := c.Open(sealed)
			if err != nil {
				t.Log(err)
				return false
			}
			return bytes.Equal(got, plaintext)
		}
		if err := quick.Check(f, nil); err != nil {
			t.Errorf("deterministic=%v: %s", deterministic, err)
		}
	}
}

func TestNonces(t *testing.T) {
	c, err := New([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.Seal([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Seal([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two v1 seals of the same plaintext are equal")
	}

	d, err := New([]byte("secret"), Deterministic())
	if err != nil {
		t.Fatal(err)
	}
	a, err = d.Seal([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err = d.Seal([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("deterministic seals differ")
	}

	// A default cipher reads legacy data.
	got, err := c.Open(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "same" {
		t.Errorf("got %q", got)
	}
}

func TestOpenFailures(t *testing.T) {
	c, err := New([]byte("right"))
	if err != nil {
		t.Fatal(err)
	}
	wrong, err := New([]byte("wrong"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	empty, err := c.Seal(nil)
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte(nil), sealed...)
	corrupt[len(corrupt)-1] ^= 0xff

	cases := map[string]struct {
		c    *Cipher
		data []byte
	}{
		"wrong password": {c: wrong, data: sealed},
		"corrupted":      {c: c, data: corrupt},
		"empty":          {c: c, data: empty},
		"garbage":        {c: c, data: []byte("xyz")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.c.Open(tc.data)
			if !errors.Is(err, notesync.ErrDecryption) {
				t.Errorf("got %v, want ErrDecryption", err)
			}
		})
	}
}

func TestRandomPassword(t *testing.T) {
	p1, err := RandomPassword(32)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := RandomPassword(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(p1) != 32 || len(p2) != 32 {
		t.Errorf("lengths %d, %d", len(p1), len(p2))
	}
	if p1 == p2 {
		t.Error("two random passwords are equal")
	}
}
