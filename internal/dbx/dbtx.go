// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// a helper to run functions inside a transaction, and session timeout
// guards for mutating units of work.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    // use tx instead of db
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
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

// ApplySessionTimeouts bounds the effect of pathological locking inside the
// current transaction. SET LOCAL reverts automatically at commit/rollback, so
// it must run on a transactional handle.
//
// Timeout values are interpolated rather than bound: Postgres does not accept
// parameters in SET statements. Both values come from trusted config.
func ApplySessionTimeouts(ctx context.Context, tx DBTX, lockTimeoutMs, statementTimeoutMs int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeoutMs)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", statementTimeoutMs)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Postgres SQLSTATEs signalling lock/statement timeout.
const (
	sqlStateLockNotAvailable = "55P03"
	sqlStateQueryCanceled    = "57014"
)

// ClassifyStoreError maps driver timeout errors to the transient
// common.ErrStoreTimeout so callers can apply retry policy; other errors pass
// through unchanged.
func ClassifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlStateLockNotAvailable || pgErr.Code == sqlStateQueryCanceled {
			return common.Wrap(common.KindTransient, common.CodeStoreTimeout, "store timeout", err)
		}
	}
	return err
}
