package hub

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/mfs"
)

// Publisher publishes local trees through a Client,
// first sending the hub whatever blocks of the tree it lacks.
type Publisher struct {
	*Client
	local blob.Getter
}

// NewPublisher produces a Publisher sending blocks from local.
func NewPublisher(c *Client, local blob.Getter) *Publisher {
	return &Publisher{Client: c, local: local}
}

// Publish replicates the tree h to the hub, then publishes it.
func (p *Publisher) Publish(ctx context.Context, id string, h notesync.Hash, password string) error {
	if _, err := mfs.Replicate(ctx, p.local, p.Client, h); err != nil {
		return errors.Wrapf(err, "replicating %s", h)
	}
	return p.Client.Publish(ctx, id, h, password)
}
