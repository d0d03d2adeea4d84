// Package sqlite3 implements an anchor store in a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/anchor"
)

var (
	_ anchor.Store  = &Store{}
	_ anchor.Lister = &Store{}
)

// Store is a Sqlite-based anchor store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `anchors` and `verifiers` tables if they do not exist.
// Timestamps are Unix nanoseconds so that they sort numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS anchors (
  name TEXT NOT NULL,
  hash BLOB NOT NULL,
  at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS anchor_idx ON anchors (name, at);

CREATE TABLE IF NOT EXISTS verifiers (
  name TEXT PRIMARY KEY NOT NULL,
  verifier BLOB NOT NULL
);
`

// New produces a new Store using db for storage.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// GetAnchor implements anchor.Getter.
func (s *Store) GetAnchor(ctx context.Context, name string) (notesync.Hash, time.Time, error) {
	const q = `SELECT hash, at FROM anchors WHERE name = $1 ORDER BY at DESC LIMIT 1`

	var (
		h  notesync.Hash
		at int64
	)
	err := s.db.QueryRowContext(ctx, q, name).Scan(&h, &at)
	if stderrs.Is(err, sql.ErrNoRows) {
		return notesync.Zero, time.Time{}, notesync.ErrNotFound
	}
	if err != nil {
		return notesync.Zero, time.Time{}, errors.Wrapf(err, "getting anchor %s", name)
	}
	return h, time.Unix(0, at), nil
}

// PutAnchor implements anchor.Store.
func (s *Store) PutAnchor(ctx context.Context, name string, h notesync.Hash, at time.Time) error {
	const q = `INSERT INTO anchors (name, hash, at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, name, h, at.UnixNano())
	return errors.Wrapf(err, "inserting anchor %s", name)
}

// GetVerifier implements anchor.Getter.
func (s *Store) GetVerifier(ctx context.Context, name string) ([]byte, error) {
	const q = `SELECT verifier FROM verifiers WHERE name = $1`

	var v []byte
	err := s.db.QueryRowContext(ctx, q, name).Scan(&v)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, notesync.ErrNotFound
	}
	return v, errors.Wrapf(err, "getting verifier for %s", name)
}

// PutVerifier implements anchor.Store.
func (s *Store) PutVerifier(ctx context.Context, name string, v []byte) error {
	const q = `INSERT INTO verifiers (name, verifier) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET verifier = excluded.verifier`
	_, err := s.db.ExecContext(ctx, q, name, v)
	return errors.Wrapf(err, "storing verifier for %s", name)
}

// ListAnchors implements anchor.Lister.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, notesync.Hash, time.Time) error) error {
	const q = `SELECT a.name, a.hash, a.at FROM anchors a
    WHERE a.name > $1 AND a.at = (SELECT MAX(at) FROM anchors b WHERE b.name = a.name)
    ORDER BY a.name`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, func(name string, h notesync.Hash, at int64) error {
		return f(name, h, time.Unix(0, at))
	})
}

func init() {
	anchor.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (anchor.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrapf(err, "opening db %s", conn)
		}
		return New(ctx, db)
	})
}
