// Package sqlite3 implements a block store in a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var (
	_ blob.Store   = &Store{}
	_ blob.Haser   = &Store{}
	_ blob.Lister  = &Store{}
	_ blob.Deleter = &Store{}
)

// Store is a Sqlite-based block store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blocks` table if it does not exist.
// (If it does exist, it must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blocks (
  hash BLOB PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);
`

// New produces a new Store using db for storage.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// Get gets the block with hash h.
func (s *Store) Get(ctx context.Context, h notesync.Hash) ([]byte, error) {
	const q = `SELECT data FROM blocks WHERE hash = $1`

	var b []byte
	err := s.db.QueryRowContext(ctx, q, h).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notesync.ErrNotFound
	}
	return b, errors.Wrapf(err, "getting block %s", h)
}

// Has tells whether s has the block with hash h.
func (s *Store) Has(ctx context.Context, h notesync.Hash) (bool, error) {
	const q = `SELECT COUNT(*) FROM blocks WHERE hash = $1`

	var n int
	err := s.db.QueryRowContext(ctx, q, h).Scan(&n)
	return n > 0, errors.Wrapf(err, "checking block %s", h)
}

// Put adds a block to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, b []byte) (notesync.Hash, bool, error) {
	const q = `INSERT INTO blocks (hash, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	h := notesync.HashOf(b)
	res, err := s.db.ExecContext(ctx, q, h, b)
	if err != nil {
		return notesync.Zero, false, errors.Wrap(err, "inserting block")
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return notesync.Zero, false, errors.Wrap(err, "counting affected rows")
	}

	return h, aff > 0, nil
}

// Delete removes a block.
func (s *Store) Delete(ctx context.Context, h notesync.Hash) error {
	const q = `DELETE FROM blocks WHERE hash = $1`
	_, err := s.db.ExecContext(ctx, q, h)
	return errors.Wrapf(err, "deleting block %s", h)
}

// ListHashes produces all block hashes in the store, in lexicographic order.
func (s *Store) ListHashes(ctx context.Context, start notesync.Hash, f func(notesync.Hash) error) error {
	const q = `SELECT hash FROM blocks WHERE hash > $1 ORDER BY hash`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, f)
}

func init() {
	blob.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (blob.Store, error) {
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
