package objectid

import (
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"pgregory.net/rapid"

	"github.com/bobg/notesync"
)

func TestParse(t *testing.T) {
	cases := []struct {
		s       string
		want    ID
		wantErr bool
	}{
		{s: "1700000000000-ABCDE", want: ID{CreatedAt: 1700000000000, Nonce: "ABCDE"}},
		{s: "0-00000", want: ID{Nonce: "00000"}},
		{s: "1700000000000-abcde", wantErr: true},
		{s: "1700000000000-ABCD", wantErr: true},
		{s: "1700000000000-ABCDEF", wantErr: true},
		{s: "-ABCDE", wantErr: true},
		{s: "01700000000000-ABCDE", wantErr: true},
		{s: "1700000000000_ABCDE", wantErr: true},
		{s: "", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.s, func(t *testing.T) {
			got, err := Parse(c.s)
			if c.wantErr {
				if !errors.Is(err, notesync.ErrInvalidObjectID) {
					t.Fatalf("got error %v, want ErrInvalidObjectID", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var (
			ms    = rapid.Int64Range(0, 1<<50).Draw(t, "ms")
			nonce = rapid.StringMatching(`[0-9A-Z]{5}`).Draw(t, "nonce")
			s     = strconv.FormatInt(ms, 10) + "-" + nonce
		)
		id, err := Parse(s)
		if err != nil {
			t.Fatal(err)
		}
		if got := id.String(); got != s {
			t.Fatalf("got %s, want %s", got, s)
		}
	})
}

func TestCreate(t *testing.T) {
	before := time.Now().UnixMilli()
	id := Create()
	after := time.Now().UnixMilli()

	if id.CreatedAt < before || id.CreatedAt > after {
		t.Errorf("CreatedAt %d not in [%d, %d]", id.CreatedAt, before, after)
	}
	if !Valid(id.String()) {
		t.Errorf("%s is not valid", id)
	}
}

func TestNew(t *testing.T) {
	tm := time.UnixMilli(1700000000000)
	id, err := New(tm, "ZZZZZ")
	if err != nil {
		t.Fatal(err)
	}
	if id.String() != "1700000000000-ZZZZZ" {
		t.Errorf("got %s", id)
	}
	if _, err = New(tm, "bad"); !errors.Is(err, notesync.ErrInvalidObjectID) {
		t.Errorf("got %v, want ErrInvalidObjectID", err)
	}
}

// Within one digit count, canonical order is creation order, then nonce order.
func TestOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) ID {
			return ID{
				CreatedAt: rapid.Int64Range(1000000000000, 9999999999999).Draw(t, "ms"),
				Nonce:     rapid.StringMatching(`[0-9A-Z]{5}`).Draw(t, "nonce"),
			}
		}), 2, 20).Draw(t, "ids")

		byString := append([]ID(nil), ids...)
		sort.Slice(byString, func(i, j int) bool { return byString[i].Less(byString[j]) })

		byValue := append([]ID(nil), ids...)
		sort.Slice(byValue, func(i, j int) bool {
			if byValue[i].CreatedAt != byValue[j].CreatedAt {
				return byValue[i].CreatedAt < byValue[j].CreatedAt
			}
			return byValue[i].Nonce < byValue[j].Nonce
		})

		for i := range ids {
			if byString[i] != byValue[i] {
				t.Fatalf("position %d: string order %s, value order %s", i, byString[i], byValue[i])
			}
		}
	})
}

// Across a digit-count boundary, canonical order disagrees with creation order.
func TestOrderingDigitBoundary(t *testing.T) {
	var (
		a = ID{CreatedAt: 9999999999999, Nonce: "00000"}
		b = ID{CreatedAt: 10000000000000, Nonce: "00000"}
	)
	if a.Less(b) {
		t.Error("expected lexicographic order to break across the digit-count boundary")
	}
}

func TestBucket(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// 2023-11-14T22:13:20Z is 17:13:20 in UTC-5.
	id := ID{CreatedAt: 1700000000000, Nonce: "ABCDE"}

	y, m, d := id.Bucket(time.UTC)
	if y != "2023" || m != "11" || d != "14" {
		t.Errorf("UTC bucket %s/%s/%s", y, m, d)
	}

	id2 := ID{CreatedAt: 1699920000000, Nonce: "ABCDE"} // 2023-11-14T00:00:00Z
	y, m, d = id2.Bucket(loc)
	if y != "2023" || m != "11" || d != "13" {
		t.Errorf("UTC-5 bucket %s/%s/%s", y, m, d)
	}

	if got := id.Path("/acct/objects", time.UTC); got != "/acct/objects/2023/11/14/1700000000000-ABCDE" {
		t.Errorf("got path %s", got)
	}
}

func TestValidBucket(t *testing.T) {
	cases := []struct {
		level int
		name  string
		want  bool
	}{
		{0, "2023", true},
		{0, "23", false},
		{0, "20231", false},
		{1, "11", true},
		{1, "1", false},
		{2, "14", true},
		{2, "x4", false},
		{3, "14", false},
		{-1, "2023", false},
	}
	for _, c := range cases {
		if got := ValidBucket(c.level, c.name); got != c.want {
			t.Errorf("ValidBucket(%d, %q) = %v, want %v", c.level, c.name, got, c.want)
		}
	}

	// Every bucket an id produces is valid at its own level.
	rapid.Check(t, func(t *rapid.T) {
		ms := rapid.Int64Range(0, 9999999999999).Draw(t, "ms")
		y, m, d := ID{CreatedAt: ms, Nonce: "ABCDE"}.Bucket(time.UTC)
		for level, name := range []string{y, m, d} {
			if !ValidBucket(level, name) {
				t.Fatalf("bucket %s/%s/%s: level %d invalid", y, m, d, level)
			}
		}
	})
}
