// Package store defines the persistence contracts shared by every domain
// aggregate: optimistic-version rows for Session/Round, and the row-locking
// transaction helper each Postgres-backed store builds on.
package store

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound marks a missing aggregate. The stores in this module do not
// return it; they return errs.NotFound errors instead.
var ErrNotFound = errors.New("store: not found")

// ErrVersionConflict marks a caller's expected version not matching the
// row's current version (spec.md §7 CONCURRENT_MODIFICATION). The stores in
// this module do not return it; they return errs.CodeConcurrentModification
// errors instead.
var ErrVersionConflict = errors.New("store: version conflict")

// Queryer is the subset of *sql.DB / *sql.Tx used to read and write rows,
// satisfied by both a pooled connection and an open transaction so store
// code can run unchanged inside or outside a locked transaction.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DB is the subset of *sql.DB used by domain stores, allowing
// sqlmock-backed tests to satisfy it without pulling in a real driver.
type DB interface {
	Queryer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic, mirroring the teacher's AppendReceipt
// transaction idiom.
func WithTx(ctx context.Context, db DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
