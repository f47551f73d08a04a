package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Attempts is how many times Exec and Tx try a statement that hits SQLITE_BUSY.
const Attempts = 3

// ErrRetriesExhausted wraps the last BUSY error once Attempts are used up.
var ErrRetriesExhausted = errors.New("dbopen: retries exhausted")

// IsBusy reports whether err indicates an SQLite BUSY or LOCKED condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// retry runs fn until it succeeds, fails with a non-BUSY error, or runs out
// of attempts. Pauses grow linearly: 50, 100 ms.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for i := range Attempts {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
		if i == Attempts-1 {
			break
		}
		t := time.NewTimer(time.Duration(50*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}

// Exec executes a statement, retrying on SQLITE_BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Tx runs fn inside a transaction, committing when it returns nil. The whole
// transaction is retried on SQLITE_BUSY, so fn must be safe to run again.
func Tx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return retry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
