package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/trigger"
)

// AcquireNextTriggers selects due WAITING triggers with FOR UPDATE SKIP
// LOCKED so that two instances racing this query never acquire the same
// row, directly grounded on FindDueTx in
// internal/data/scheduled_jobs_repo.go.
func (s *Store) AcquireNextTriggers(ctx context.Context, instanceID string, params store.AcquireNextTriggersParams) ([]model.Trigger, error) {
	var out []model.Trigger
	err := withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}

		horizon := params.NoLaterThan.Add(params.TimeWindow)
		limit := params.MaxCount
		if limit <= 0 {
			limit = 100
		}

		rows, err := tx.QueryContext(ctx, triggerSelectSQL+`
			WHERE state = $1 AND next_fire_time IS NOT NULL AND next_fire_time <= $2
			ORDER BY next_fire_time ASC, priority DESC, trigger_group ASC, trigger_name ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`, model.StateWaiting, horizon, limit)
		if err != nil {
			return fmt.Errorf("select due triggers: %w", err)
		}
		var candidates []model.Trigger
		for rows.Next() {
			t, _, err := scanTrigger(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan due trigger: %w", err)
			}
			candidates = append(candidates, t)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate due triggers: %w", err)
		}
		rows.Close()

		for _, t := range candidates {
			if err := trigger.Validate(model.StateWaiting, model.StateAcquired); err != nil {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
				model.StateAcquired, t.Key.Group, t.Key.Name); err != nil {
				return fmt.Errorf("acquire trigger: %w", err)
			}
			out = append(out, t)
		}
		_ = instanceID
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TriggersFired transitions each ACQUIRED trigger to EXECUTING, inserts its
// FiredTrigger breadcrumb, and blocks peer triggers of non-concurrent jobs.
func (s *Store) TriggersFired(ctx context.Context, instanceID string, triggers []model.Trigger) ([]store.TriggersFiredResult, error) {
	var results []store.TriggersFiredResult
	now := s.clock.Now()

	err := withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}

		for _, t := range triggers {
			var state string
			row := tx.QueryRowContext(ctx, `SELECT state FROM triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE`,
				t.Key.Group, t.Key.Name)
			if err := row.Scan(&state); err != nil {
				continue // deleted concurrently; silently omitted per contract
			}
			if model.TriggerState(state) != model.StateAcquired {
				continue // lost the race
			}

			job, err := getJobTx(ctx, tx, t.JobKey)
			if err != nil {
				continue
			}

			if err := trigger.Validate(model.StateAcquired, model.StateExecuting); err != nil {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
				model.StateExecuting, t.Key.Group, t.Key.Name); err != nil {
				return fmt.Errorf("mark trigger executing: %w", err)
			}

			ft := model.FiredTrigger{
				EntryID:          uuid.NewString(),
				TriggerKey:       t.Key,
				JobKey:           t.JobKey,
				InstanceID:       instanceID,
				State:            model.FiredStateExecuting,
				FiredAt:          now,
				ScheduledAt:      derefTime(t.NextFireTime, now),
				Priority:         t.Priority,
				NonConcurrent:    job.ConcurrentExecutionDisallowed,
				RequestsRecovery: job.RequestsRecovery,
			}
			if err := insertFiredTriggerTx(ctx, tx, ft); err != nil {
				return err
			}

			if job.ConcurrentExecutionDisallowed {
				if err := blockPeersTx(ctx, tx, t.JobKey, t.Key); err != nil {
					return err
				}
			}

			results = append(results, store.TriggersFiredResult{Trigger: t, Job: job, FiredTrigger: ft})
		}
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, key model.JobKey) (model.JobDefinition, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT job_group, job_name, job_type, durable, persist_job_data_after_execution,
			concurrent_execution_disallowed, requests_recovery, job_data
		FROM jobs WHERE job_group = $1 AND job_name = $2
	`, key.Group, key.Name)
	return scanJob(row)
}

func insertFiredTriggerTx(ctx context.Context, tx *sql.Tx, ft model.FiredTrigger) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fired_triggers (entry_id, trigger_group, trigger_name, job_group, job_name,
			instance_id, state, fired_at, scheduled_at, priority, non_concurrent, requests_recovery,
			lease_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, ft.EntryID, ft.TriggerKey.Group, ft.TriggerKey.Name, ft.JobKey.Group, ft.JobKey.Name,
		ft.InstanceID, ft.State, ft.FiredAt, ft.ScheduledAt, ft.Priority, ft.NonConcurrent,
		ft.RequestsRecovery, nullTime(ft.LeaseExpiresAt))
	if err != nil {
		return fmt.Errorf("insert fired trigger: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func blockPeersTx(ctx context.Context, tx *sql.Tx, jobKey model.JobKey, except model.TriggerKey) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT trigger_group, trigger_name, state FROM triggers
		WHERE job_group = $1 AND job_name = $2 AND NOT (trigger_group = $3 AND trigger_name = $4)
		FOR UPDATE
	`, jobKey.Group, jobKey.Name, except.Group, except.Name)
	if err != nil {
		return fmt.Errorf("select peer triggers: %w", err)
	}
	defer rows.Close()

	type peer struct {
		group, name string
		state       model.TriggerState
	}
	var peers []peer
	for rows.Next() {
		var p peer
		if err := rows.Scan(&p.group, &p.name, &p.state); err != nil {
			return fmt.Errorf("scan peer trigger: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range peers {
		if p.state != model.StateWaiting && p.state != model.StatePaused {
			continue
		}
		next := trigger.ApplyBlock(p.state)
		if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
			next, p.group, p.name); err != nil {
			return fmt.Errorf("block peer trigger: %w", err)
		}
	}
	return nil
}

func unblockPeersTx(ctx context.Context, tx *sql.Tx, jobKey model.JobKey) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT trigger_group, trigger_name, state FROM triggers
		WHERE job_group = $1 AND job_name = $2 AND state IN ($3, $4)
		FOR UPDATE
	`, jobKey.Group, jobKey.Name, model.StateBlocked, model.StatePausedBlocked)
	if err != nil {
		return fmt.Errorf("select blocked peer triggers: %w", err)
	}
	defer rows.Close()

	type peer struct {
		group, name string
		state       model.TriggerState
	}
	var peers []peer
	for rows.Next() {
		var p peer
		if err := rows.Scan(&p.group, &p.name, &p.state); err != nil {
			return fmt.Errorf("scan blocked peer trigger: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range peers {
		next := trigger.ApplyUnblock(p.state)
		if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
			next, p.group, p.name); err != nil {
			return fmt.Errorf("unblock peer trigger: %w", err)
		}
	}
	return nil
}

// TriggeredJobComplete applies the post-execution disposition and removes
// the FiredTrigger breadcrumb, unblocking peers of non-concurrent jobs.
func (s *Store) TriggeredJobComplete(ctx context.Context, params store.TriggeredJobCompleteParams) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM fired_triggers WHERE entry_id = $1`, params.FiredTriggerID); err != nil {
			return fmt.Errorf("delete fired trigger: %w", err)
		}

		switch params.Disposition {
		case store.DispositionDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE trigger_group = $1 AND trigger_name = $2`,
				params.Trigger.Key.Group, params.Trigger.Key.Name); err != nil {
				return fmt.Errorf("delete completed trigger: %w", err)
			}
		case store.DispositionSetComplete:
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
				model.StateComplete, params.Trigger.Key.Group, params.Trigger.Key.Name); err != nil {
				return fmt.Errorf("mark trigger complete: %w", err)
			}
		case store.DispositionSetError:
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
				model.StateError, params.Trigger.Key.Group, params.Trigger.Key.Name); err != nil {
				return fmt.Errorf("mark trigger error: %w", err)
			}
		case store.DispositionSetAllJobTriggersError:
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE job_group = $2 AND job_name = $3`,
				model.StateError, params.Trigger.JobKey.Group, params.Trigger.JobKey.Name); err != nil {
				return fmt.Errorf("mark job triggers error: %w", err)
			}
		case store.DispositionSetAllJobTriggersDone:
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE job_group = $2 AND job_name = $3`,
				model.StateComplete, params.Trigger.JobKey.Group, params.Trigger.JobKey.Name); err != nil {
				return fmt.Errorf("mark job triggers complete: %w", err)
			}
		default: // noop: resume normal waiting with recomputed schedule
			if err := applyRescheduleTx(ctx, tx, params); err != nil {
				return err
			}
		}

		if params.PersistJobData {
			jobData, err := json.Marshal(params.JobDataMap.Clone())
			if err != nil {
				return apperr.Wrap(err, apperr.CodeValidation, "encode persisted job data")
			}
			if _, err := tx.ExecContext(ctx, `UPDATE jobs SET job_data = $1 WHERE job_group = $2 AND job_name = $3`,
				jobData, params.Trigger.JobKey.Group, params.Trigger.JobKey.Name); err != nil {
				return fmt.Errorf("persist job data: %w", err)
			}
		}

		return unblockPeersTx(ctx, tx, params.Trigger.JobKey)
	}})
}

func applyRescheduleTx(ctx context.Context, tx *sql.Tx, params store.TriggeredJobCompleteParams) error {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE`,
		params.Trigger.Key.Group, params.Trigger.Key.Name).Scan(&state)
	if err == sql.ErrNoRows {
		return nil // already deleted concurrently
	}
	if err != nil {
		return fmt.Errorf("lookup trigger for reschedule: %w", err)
	}

	next := model.StateWaiting
	cur := model.TriggerState(state)
	if params.NextFireTime == nil {
		next = model.StateComplete
	} else if cur == model.StatePaused || cur == model.StatePausedBlocked {
		next = cur
	}

	scheduleParams := params.ScheduleParams
	if scheduleParams == nil {
		var existing []byte
		if err := tx.QueryRowContext(ctx, `SELECT schedule_params FROM triggers WHERE trigger_group = $1 AND trigger_name = $2`,
			params.Trigger.Key.Group, params.Trigger.Key.Name).Scan(&existing); err != nil {
			return fmt.Errorf("read existing schedule params: %w", err)
		}
		scheduleParams = existing
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE triggers SET state = $1, previous_fire_time = next_fire_time, next_fire_time = $2,
			schedule_params = $3
		WHERE trigger_group = $4 AND trigger_name = $5
	`, next, params.NextFireTime, scheduleParams, params.Trigger.Key.Group, params.Trigger.Key.Name)
	if err != nil {
		return fmt.Errorf("reschedule trigger: %w", err)
	}
	return nil
}

// ReleaseAcquiredTrigger returns a trigger from ACQUIRED back to WAITING.
func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, key model.TriggerKey) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3 AND state = $4
		`, model.StateWaiting, key.Group, key.Name, model.StateAcquired)
		if err != nil {
			return fmt.Errorf("release acquired trigger: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM triggers WHERE trigger_group=$1 AND trigger_name=$2)`,
				key.Group, key.Name).Scan(&exists); err != nil {
				return fmt.Errorf("check trigger exists: %w", err)
			}
			if !exists {
				return apperr.New(apperr.CodeNotFound, "trigger not found")
			}
		}
		return nil
	}})
}

// GetMisfiredTriggers returns WAITING triggers older than threshold.
func (s *Store) GetMisfiredTriggers(ctx context.Context, threshold time.Time, maxCount int) ([]model.Trigger, error) {
	limit := maxCount
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, triggerSelectSQL+`
		WHERE state = $1 AND next_fire_time IS NOT NULL AND next_fire_time < $2
		ORDER BY next_fire_time ASC
		LIMIT $3
	`, model.StateWaiting, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("select misfired triggers: %w", err)
	}
	defer rows.Close()

	var out []model.Trigger
	for rows.Next() {
		t, _, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan misfired trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTriggerSchedule persists a trigger's recomputed fire time.
func (s *Store) UpdateTriggerSchedule(ctx context.Context, key model.TriggerKey, nextFireTime *time.Time, scheduleParams []byte) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE`,
			key.Group, key.Name).Scan(&state)
		if err == sql.ErrNoRows {
			return apperr.New(apperr.CodeNotFound, "trigger not found")
		}
		if err != nil {
			return fmt.Errorf("lookup trigger: %w", err)
		}

		next := model.TriggerState(state)
		if nextFireTime == nil && next == model.StateWaiting {
			if err := trigger.Validate(next, model.StateComplete); err != nil {
				return err
			}
			next = model.StateComplete
		}

		if scheduleParams != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE triggers SET next_fire_time = $1, schedule_params = $2, state = $3
				WHERE trigger_group = $4 AND trigger_name = $5
			`, nextFireTime, scheduleParams, next, key.Group, key.Name)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE triggers SET next_fire_time = $1, state = $2
				WHERE trigger_group = $3 AND trigger_name = $4
			`, nextFireTime, next, key.Group, key.Name)
		}
		if err != nil {
			return fmt.Errorf("update trigger schedule: %w", err)
		}
		return nil
	}})
}
