// Package pg implements an anchor store in a Postgresql database.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/bobg/sqlutil"
	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/anchor"
)

var (
	_ anchor.Store  = &Store{}
	_ anchor.Lister = &Store{}
)

// Store is a Postgresql-based anchor store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `anchors` and `verifiers` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS anchors (
  name TEXT NOT NULL,
  at TIMESTAMP WITH TIME ZONE NOT NULL,
  hash BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS anchors_name_at_idx ON anchors (name, at);

CREATE TABLE IF NOT EXISTS verifiers (
  name TEXT PRIMARY KEY NOT NULL,
  verifier BYTEA NOT NULL
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
		at time.Time
	)
	err := s.db.QueryRowContext(ctx, q, name).Scan(&h, &at)
	if stderrs.Is(err, sql.ErrNoRows) {
		return notesync.Zero, time.Time{}, notesync.ErrNotFound
	}
	return h, at, errors.Wrapf(err, "getting anchor %s", name)
}

// PutAnchor implements anchor.Store.
func (s *Store) PutAnchor(ctx context.Context, name string, h notesync.Hash, at time.Time) error {
	const q = `INSERT INTO anchors (name, at, hash) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, name, at, h)
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
	const q = `INSERT INTO verifiers (name, verifier) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET verifier = $2`
	_, err := s.db.ExecContext(ctx, q, name, v)
	return errors.Wrapf(err, "storing verifier for %s", name)
}

// ListAnchors implements anchor.Lister.
func (s *Store) ListAnchors(ctx context.Context, start string, f func(string, notesync.Hash, time.Time) error) error {
	const q = `SELECT DISTINCT ON (name) name, hash, at FROM anchors WHERE name > $1 ORDER BY name, at DESC`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, f)
}

func init() {
	anchor.Register("pg", func(ctx context.Context, conf map[string]interface{}) (anchor.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrapf(err, "opening db %s", conn)
		}
		return New(ctx, db)
	})
}
