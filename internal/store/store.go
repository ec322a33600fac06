// Package store is the persistence layer over a container database. It owns
// the live feature table, the fid mapping, the container metadata, and the
// local change log.
//
// The change log is exclusively owned by this package's callers in three
// roles: the extractor reads it, the applier writes it on inbound changes,
// and the resolver writes it when conflicts are settled. No other component
// touches those tables directly.
package store

import (
	"database/sql"
	"fmt"

	"github.com/layersync/layersync/internal/db"
)

// Queryer is the read/write surface shared by *sql.DB and *sql.Tx, so store
// methods can run standalone or inside a caller-owned transaction.
type Queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Store provides access to one container's tables.
type Store struct {
	db *db.DB

	Meta     *MetaStore
	Features *FeatureStore
	Changes  *ChangeStore
}

// New creates a Store over an open container database.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Meta = &MetaStore{store: s}
	s.Features = &FeatureStore{store: s}
	s.Changes = &ChangeStore{store: s}
	return s
}

// DB returns the underlying container database.
func (s *Store) DB() *db.DB {
	return s.db
}

// WithTx executes fn within a transaction. If fn returns nil the transaction
// is committed, otherwise it is rolled back. A transaction once started runs
// to commit or rollback as a unit; cancellation is never attempted mid-flight.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
