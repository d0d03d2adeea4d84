package main

import (
	"context"
	"flag"
	"log"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/account"
	"github.com/bobg/notesync/mfs"
)

// watch keeps the account synced:
// periodically if the config sets a refresh interval,
// and whenever another process changes the local tree.
func (c maincmd) watch(ctx context.Context, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "account id (default from config)")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	a, err := c.openAccount(ctx, *id, true)
	if err != nil {
		return err
	}
	defer a.Stop()

	a.OnSync(func(ev account.SyncEvent) {
		if !ev.Syncing && ev.Err == nil {
			log.Printf("synced %s", ev.CID)
		}
	})

	if _, err = a.Sync(ctx, account.SyncOptions{}); err != nil {
		log.Printf("ERROR initial sync: %s", err)
	}

	root := mfs.NewFileRoot(c.conf.Root)
	err = root.Watch(ctx, func(notesync.Hash) {
		a.Sync(ctx, account.SyncOptions{Debounce: true})
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
