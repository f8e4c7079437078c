package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// txConfig groups parameters for withSQLTx. Every JobStore operation that
// runs more than one statement goes through this helper so the
// acquire/commit/rollback shape never has to be repeated at each call site.
type txConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// withSQLTx runs fn inside a database/sql transaction, rolling back on any
// error and committing otherwise. Trigger acquisition, cluster check-in,
// pause/resume and job recovery go through this helper; single-statement
// writes (RemoveJob, the calendar writes, ClearAllSchedulingData) run
// directly on the pool.
func withSQLTx(ctx context.Context, db *sql.DB, cfg txConfig) (err error) {
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = cfg.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// withPgxConn acquires a *sql.Conn from db, unwraps it to the underlying
// *pgx.Conn via the stdlib driver's Raw hook, and runs fn with it. The
// relational Signaler needs this to reach pgx's LISTEN/NOTIFY API, which
// database/sql has no equivalent for.
func withPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		return fn(std.Conn())
	})
}
