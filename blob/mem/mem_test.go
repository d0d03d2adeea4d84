package mem

import (
	"context"
	"testing"

	"github.com/bobg/notesync/testutil"
)

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New())
}

func TestAllHashes(t *testing.T) {
	testutil.AllHashes(context.Background(), t, func() testutil.ListStore { return New() })
}
