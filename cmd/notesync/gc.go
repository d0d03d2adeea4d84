package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync/anchor"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/gc"
)

// gc deletes unreachable blocks,
// from the local store or, with -server, from the hub's.
func (c maincmd) gc(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		server = fs.Bool("server", false, "collect the hub's blocks instead of the local ones")
		keep   = fs.Duration("keep", 30*24*time.Hour, "with -server, also keep trees published this recently")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	var (
		k      = gc.NewMemKeep()
		blocks blob.Store
		err    error
	)
	if *server {
		blocks, err = createFromConf(ctx, c.conf.Server.Blocks, blob.Create)
		if err != nil {
			return errors.Wrap(err, "server blocks")
		}
		names, err := createFromConf(ctx, c.conf.Server.Names, anchor.Create)
		if err != nil {
			return errors.Wrap(err, "server names")
		}
		lister, ok := names.(anchor.Lister)
		if !ok {
			return errors.New("server names store cannot list")
		}
		if err = gc.ProtectAnchors(ctx, k, blocks, lister, time.Now().Add(-*keep)); err != nil {
			return errors.Wrap(err, "protecting published trees")
		}
	} else {
		// Walking the tree fetches any of its blocks still only on the hub.
		l, err := c.openLocal(ctx)
		if err != nil {
			return err
		}
		h, err := l.fs.Root(ctx)
		if err != nil {
			return errors.Wrap(err, "getting local root")
		}
		if err = gc.Protect(ctx, k, l.fs.Blocks(), h); err != nil {
			return errors.Wrap(err, "protecting local tree")
		}
		blocks = l.blocks
	}

	s, ok := blocks.(gc.Store)
	if !ok {
		return errors.New("block store cannot list and delete")
	}
	n, err := gc.Run(ctx, s, k)
	if err != nil {
		return err
	}
	log.Printf("deleted %d blocks, kept %d", n, k.Len())
	return nil
}
