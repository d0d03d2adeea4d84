// Command notesync syncs an encrypted note collection with a hub,
// and runs the hub.
//
// Usage:
//
//	notesync [-config FILE] [-log FILE] SUBCOMMAND [ARGS]
//
// The config file is JSON:
//
//	{
//	  "root":     "notesync.root",
//	  "blocks":   {"type": "lru", "size": 1000, "nested": {"type": "sqlite3", "conn": "blocks.db"}},
//	  "hub":      "http://localhost:8800",
//	  "account":  "k...",
//	  "location": "Local",
//	  "debounce": "10s",
//	  "refresh":  "5m",
//	  "server": {
//	    "addr":   ":8800",
//	    "blocks": {"type": "file", "root": "hubblocks"},
//	    "names":  {"type": "sqlite3", "conn": "names.db"}
//	  }
//	}
//
// The account password comes from the environment variable NOTESYNC_PASSWORD.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bobg/notesync/account"
	_ "github.com/bobg/notesync/anchor/mem"
	_ "github.com/bobg/notesync/anchor/pg"
	_ "github.com/bobg/notesync/anchor/sqlite3"
	"github.com/bobg/notesync/blob"
	"github.com/bobg/notesync/blob/fallback"
	_ "github.com/bobg/notesync/blob/file"
	_ "github.com/bobg/notesync/blob/logging"
	_ "github.com/bobg/notesync/blob/lru"
	_ "github.com/bobg/notesync/blob/mem"
	_ "github.com/bobg/notesync/blob/sqlite3"
	"github.com/bobg/notesync/hub"
	"github.com/bobg/notesync/mfs"
)

type config struct {
	Root     string                 `json:"root"`
	Blocks   map[string]interface{} `json:"blocks"`
	Hub      string                 `json:"hub"`
	Account  string                 `json:"account"`
	Location string                 `json:"location"`
	Debounce string                 `json:"debounce"`
	Refresh  string                 `json:"refresh"`

	Server struct {
		Addr   string                 `json:"addr"`
		Blocks map[string]interface{} `json:"blocks"`
		Names  map[string]interface{} `json:"names"`
	} `json:"server"`
}

type maincmd struct {
	conf config
}

func main() {
	var (
		configFile = flag.String("config", "notesync.json", "path to config file")
		logFile    = flag.String("log", "", "log to this file, rotating it, instead of stderr")
	)
	flag.Parse()

	if *logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	f, err := os.Open(*configFile)
	if err != nil {
		log.Fatalf("Opening config file %s: %s", *configFile, err)
	}
	var conf config
	err = json.NewDecoder(f).Decode(&conf)
	f.Close()
	if err != nil {
		log.Fatalf("Decoding config file %s: %s", *configFile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = subcmd.Run(ctx, maincmd{conf: conf}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"init":  c.init,
		"sync":  c.sync,
		"ls":    c.ls,
		"cat":   c.cat,
		"put":   c.put,
		"rm":    c.rm,
		"watch": c.watch,
		"hub":   c.hub,
		"gc":    c.gc,
	}
}

// createFromConf creates the registered store described by conf.
func createFromConf[T any](ctx context.Context, conf map[string]interface{}, create func(context.Context, string, map[string]interface{}) (T, error)) (T, error) {
	var zero T
	typ, ok := conf["type"].(string)
	if !ok {
		return zero, errors.New("missing `type` parameter")
	}
	s, err := create(ctx, typ, conf)
	return s, errors.Wrapf(err, "creating %s-type store", typ)
}

// local is this device's view:
// its tree over local blocks backed by the hub's,
// and the hub client.
type local struct {
	fs     *mfs.FS
	blocks blob.Store
	root   *mfs.FileRoot
	client *hub.Client
}

func (c maincmd) openLocal(ctx context.Context) (*local, error) {
	if c.conf.Root == "" {
		return nil, errors.New("config lacks `root`")
	}
	blocks, err := createFromConf(ctx, c.conf.Blocks, blob.Create)
	if err != nil {
		return nil, errors.Wrap(err, "blocks")
	}

	l := &local{
		blocks: blocks,
		root:   mfs.NewFileRoot(c.conf.Root),
	}
	var s blob.Store = blocks
	if c.conf.Hub != "" {
		l.client = hub.NewClient(c.conf.Hub)
		s = fallback.New(blocks, l.client)
	}
	l.fs, err = mfs.New(ctx, s, l.root)
	if err != nil {
		return nil, errors.Wrap(err, "opening tree")
	}
	return l, nil
}

func (c maincmd) accountOptions(l *local) (account.Options, error) {
	if l.client == nil {
		return account.Options{}, errors.New("config lacks `hub`")
	}
	opts := account.Options{
		Store: l.fs,
		Names: hub.NewPublisher(l.client, l.fs.Blocks()),
		Swarm: l.client,
		Peer:  c.conf.Hub,
	}
	if c.conf.Location != "" {
		loc, err := time.LoadLocation(c.conf.Location)
		if err != nil {
			return opts, errors.Wrapf(err, "loading location %s", c.conf.Location)
		}
		opts.Location = loc
	}
	var err error
	if opts.Debounce, err = parseDuration(c.conf.Debounce); err != nil {
		return opts, errors.Wrap(err, "parsing debounce")
	}
	if opts.Refresh, err = parseDuration(c.conf.Refresh); err != nil {
		return opts, errors.Wrap(err, "parsing refresh")
	}
	return opts, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func password() (string, error) {
	pw := os.Getenv("NOTESYNC_PASSWORD")
	if pw == "" {
		return "", errors.New("NOTESYNC_PASSWORD not set")
	}
	return pw, nil
}

// openAccount opens the configured account.
// The caller must Stop it.
func (c maincmd) openAccount(ctx context.Context, id string, debounce bool) (*account.Account, error) {
	if id == "" {
		id = c.conf.Account
	}
	if id == "" {
		return nil, errors.New("no account id (set `account` in the config, or use -id)")
	}
	pw, err := password()
	if err != nil {
		return nil, err
	}
	l, err := c.openLocal(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := c.accountOptions(l)
	if err != nil {
		l.fs.Close()
		return nil, err
	}
	if !debounce {
		opts.Debounce, opts.Refresh = -1, 0
	}
	a, err := account.Create(ctx, account.Credentials{ID: id, Password: pw}, opts)
	if err != nil {
		l.fs.Close()
		return nil, errors.Wrapf(err, "opening account %s", id)
	}
	return a, nil
}
