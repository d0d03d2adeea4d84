package merge

import (
	"context"
	"io"

	"github.com/bobg/notesync"
)

// lookup is the result of reading something that may legitimately be absent.
// A missing path is found == false with a nil error;
// every other failure is an error.
type lookup[T any] struct {
	val   T
	found bool
}

func stat(ctx context.Context, s notesync.Store, path string) (lookup[notesync.Entry], error) {
	e, err := s.Stat(ctx, path)
	if notesync.IsNotFound(err) {
		return lookup[notesync.Entry]{}, nil
	}
	if err != nil {
		return lookup[notesync.Entry]{}, err
	}
	return lookup[notesync.Entry]{val: e, found: true}, nil
}

func readFile(ctx context.Context, s notesync.Store, path string) (lookup[[]byte], error) {
	r, err := s.Read(ctx, path)
	if notesync.IsNotFound(err) {
		return lookup[[]byte]{}, nil
	}
	if err != nil {
		return lookup[[]byte]{}, err
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if notesync.IsNotFound(err) {
		return lookup[[]byte]{}, nil
	}
	if err != nil {
		return lookup[[]byte]{}, err
	}
	return lookup[[]byte]{val: b, found: true}, nil
}
