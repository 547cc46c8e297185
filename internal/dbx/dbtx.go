// Package dbx holds the small database helpers shared by the client and
// server repositories: the DBTX handle accepted by every repository method
// and WithTx, which runs a unit of work in one transaction.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// DBTX is implemented by both *sql.DB and *sql.Tx, so repositories work the
// same inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txAttempts bounds how many times a transaction is replayed after lock
// contention (SQLite busy) or a Postgres serialization failure.
const txAttempts = 3

var txBackoff = 20 * time.Millisecond

// WithTx begins a transaction, runs fn with it and commits. The transaction
// is rolled back when fn returns an error or panics; panics are rethrown.
//
// When begin, fn or commit fails because the database is busy, the whole
// unit is replayed in a fresh transaction, so fn must only touch state
// through tx:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE chunks SET ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) error {
	b := retry.WithMaxRetries(txAttempts-1, retry.NewExponential(txBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := runTx(ctx, db, opts, fn)
		if err != nil && IsContention(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

// IsContention reports whether err is a transient locking failure worth
// replaying: SQLITE_BUSY/SQLITE_LOCKED from modernc sqlite, or a Postgres
// serialization failure (40001) or deadlock (40P01).
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}
