package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync/anchor"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/hub"
)

func (c maincmd) hub(ctx context.Context, fs *flag.FlagSet, args []string) error {
	addr := fs.String("addr", c.conf.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *addr == "" {
		*addr = ":8800"
	}

	blocks, err := createFromConf(ctx, c.conf.Server.Blocks, blob.Create)
	if err != nil {
		return errors.Wrap(err, "server blocks")
	}
	names, err := createFromConf(ctx, c.conf.Server.Names, anchor.Create)
	if err != nil {
		return errors.Wrap(err, "server names")
	}

	srv := &http.Server{
		Handler:           hub.NewServer(blocks, names, hub.ServerOptions{}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", *addr)
	}
	log.Printf("Listening on %s", lis.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
