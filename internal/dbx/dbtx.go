// Package dbx provides the small database helpers shared by repositories:
// DBTX, implemented by both *sql.DB and *sql.Tx, a transaction runner and a
// retry loop for optimistic-concurrency conflicts.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/sethvargo/go-retry"
)

// DBTX is the subset of database/sql used by our repos.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic; panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
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

	err = fn(ctx, tx)
	return err
}

// ConflictAttempts bounds RetryOnConflict.
var ConflictAttempts uint64 = 5

// conflictBackoff is a seam for tests.
var conflictBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(ConflictAttempts-1, retry.WithJitter(5*time.Millisecond, retry.NewExponential(10*time.Millisecond)))
}

// RetryOnConflict re-runs fn while it fails with common.ErrVersionConflict.
// fn must re-read the row on every attempt. Any other error stops the loop.
func RetryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}
