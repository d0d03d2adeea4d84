package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/notesync/account"
	"github.com/bobg/notesync/objectid"
	"github.com/bobg/notesync/pager"
)

func (c maincmd) init(ctx context.Context, fs *flag.FlagSet, args []string) error {
	nosync := fs.Bool("nosync", false, "do not publish the new account")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	pw, err := password()
	if err != nil {
		return err
	}
	l, err := c.openLocal(ctx)
	if err != nil {
		return err
	}
	opts, err := c.accountOptions(l)
	if err != nil {
		return err
	}
	opts.Debounce = -1

	a, err := account.Create(ctx, account.Credentials{Password: pw}, opts)
	if err != nil {
		return errors.Wrap(err, "creating account")
	}
	defer a.Stop()

	fmt.Println(a.ID())

	if *nosync {
		return nil
	}
	h, err := a.Sync(ctx, account.SyncOptions{SkipDownload: true})
	if err != nil {
		return errors.Wrap(err, "publishing")
	}
	log.Printf("published %s", h)
	return nil
}

func (c maincmd) sync(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		id     = fs.String("id", "", "account id (default from config)")
		upOnly = fs.Bool("up", false, "publish without merging the published tree first")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	a, err := c.openAccount(ctx, *id, false)
	if err != nil {
		return err
	}
	defer a.Stop()

	h, err := a.Sync(ctx, account.SyncOptions{SkipDownload: *upOnly})
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func parseOptionalID(s string) (*objectid.ID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := objectid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (c maincmd) ls(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		id     = fs.String("id", "", "account id (default from config)")
		before = fs.String("before", "", "list objects before this one")
		after  = fs.String("after", "", "list objects after this one")
		limit  = fs.Int("limit", pager.DefaultLimit, "page size")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	var (
		q   = pager.Query{Limit: *limit}
		err error
	)
	if q.Before, err = parseOptionalID(*before); err != nil {
		return errors.Wrap(err, "parsing -before")
	}
	if q.After, err = parseOptionalID(*after); err != nil {
		return errors.Wrap(err, "parsing -after")
	}

	a, err := c.openAccount(ctx, *id, false)
	if err != nil {
		return err
	}
	defer a.Stop()

	ids, err := a.Objects(ctx, q)
	if err != nil {
		return err
	}
	for _, oid := range ids {
		obj, err := a.Object(&oid)
		if err != nil {
			return err
		}
		info, err := obj.Info(ctx)
		if err != nil {
			return errors.Wrapf(err, "getting info of %s", oid)
		}
		updated, err := obj.UpdatedAt(ctx)
		if err != nil {
			return errors.Wrapf(err, "getting mtime of %s", oid)
		}
		fmt.Printf("%s %s %s\n", oid, updated.Format("2006-01-02T15:04:05"), info.Title)
	}
	return nil
}

func (c maincmd) cat(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		id   = fs.String("id", "", "account id (default from config)")
		oid  = fs.String("object", "", "object id")
		name = fs.String("name", "body", "payload name")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	objID, err := objectid.Parse(*oid)
	if err != nil {
		return errors.Wrap(err, "parsing -object")
	}

	a, err := c.openAccount(ctx, *id, false)
	if err != nil {
		return err
	}
	defer a.Stop()

	obj, err := a.Object(&objID)
	if err != nil {
		return err
	}
	b, err := obj.Read(ctx, *name)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

func (c maincmd) put(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		id     = fs.String("id", "", "account id (default from config)")
		oid    = fs.String("object", "", "object id (default: a new object)")
		name   = fs.String("name", "body", "payload name")
		title  = fs.String("title", "", "set the object's title")
		nosync = fs.Bool("nosync", false, "do not sync afterwards")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	objID, err := parseOptionalID(*oid)
	if err != nil {
		return errors.Wrap(err, "parsing -object")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}

	a, err := c.openAccount(ctx, *id, false)
	if err != nil {
		return err
	}
	defer a.Stop()

	obj, err := a.Object(objID)
	if err != nil {
		return err
	}
	if err = obj.Write(ctx, *name, data); err != nil {
		return err
	}
	if *title != "" {
		info, err := obj.Info(ctx)
		if err != nil {
			return err
		}
		info.Title = *title
		if err = obj.SetInfo(ctx, info); err != nil {
			return err
		}
	}
	fmt.Println(obj.ID())

	if *nosync {
		return nil
	}
	_, err = a.Sync(ctx, account.SyncOptions{})
	return err
}

func (c maincmd) rm(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		id     = fs.String("id", "", "account id (default from config)")
		nosync = fs.Bool("nosync", false, "do not sync afterwards")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	a, err := c.openAccount(ctx, *id, false)
	if err != nil {
		return err
	}
	defer a.Stop()

	for _, arg := range fs.Args() {
		objID, err := objectid.Parse(arg)
		if err != nil {
			return err
		}
		if err = a.DeleteObject(ctx, objID); err != nil {
			return err
		}
	}

	if *nosync {
		return nil
	}
	_, err = a.Sync(ctx, account.SyncOptions{})
	return err
}
