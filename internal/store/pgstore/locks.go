package pgstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Two fixed advisory-lock keys implement the two named table-wide locks,
// TRIGGER_ACCESS and STATE_ACCESS: distinct major keys so they never collide
// in Postgres's single advisory-lock keyspace, following the
// pg_try_advisory_xact_lock convention in
// internal/data/scheduled_jobs_repo.go's TryWithTaskLock, generalized from
// a per-task-name key to two store-wide coarse keys, since both named locks
// guard whole tables rather than individual rows.
const (
	lockTriggerAccess int64 = 0x43485f54524947 // "CH_TRIG" truncated to fit bigint
	lockStateAccess   int64 = 0x43485f53544154 // "CH_STAT" truncated to fit bigint
)

// withTriggerAccess acquires the TRIGGER_ACCESS advisory lock for the
// lifetime of tx, released automatically at commit or rollback.
func withTriggerAccess(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockTriggerAccess); err != nil {
		return fmt.Errorf("acquire TRIGGER_ACCESS: %w", err)
	}
	return nil
}

// withStateAccess acquires the STATE_ACCESS advisory lock for the lifetime
// of tx. STATE_ACCESS is always acquired before TRIGGER_ACCESS within one
// logical operation that needs both.
func withStateAccess(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockStateAccess); err != nil {
		return fmt.Errorf("acquire STATE_ACCESS: %w", err)
	}
	return nil
}
