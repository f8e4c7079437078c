package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/chronos/internal/model"
)

// CheckIn upserts instanceID's liveness row under STATE_ACCESS, which is
// always acquired before TRIGGER_ACCESS within one logical operation,
// mirroring the per-task advisory locking discipline generalized to the
// cluster liveness table.
func (s *Store) CheckIn(ctx context.Context, instanceID string, interval time.Duration, now time.Time) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withStateAccess(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduler_state (instance_id, last_check_in, check_in_interval)
			VALUES ($1, $2, $3)
			ON CONFLICT (instance_id) DO UPDATE SET last_check_in = EXCLUDED.last_check_in,
				check_in_interval = EXCLUDED.check_in_interval
		`, instanceID, now, interval.Nanoseconds())
		if err != nil {
			return fmt.Errorf("check in: %w", err)
		}
		return nil
	}})
}

func (s *Store) FindFailedInstances(ctx context.Context, now time.Time, toleranceSkew time.Duration) ([]model.SchedulerStateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, last_check_in, check_in_interval FROM scheduler_state`)
	if err != nil {
		return nil, fmt.Errorf("select scheduler state: %w", err)
	}
	defer rows.Close()

	var out []model.SchedulerStateRecord
	for rows.Next() {
		var rec model.SchedulerStateRecord
		var intervalNanos int64
		if err := rows.Scan(&rec.InstanceID, &rec.LastCheckIn, &intervalNanos); err != nil {
			return nil, fmt.Errorf("scan scheduler state: %w", err)
		}
		rec.CheckInInterval = time.Duration(intervalNanos)
		if now.Sub(rec.LastCheckIn) > rec.CheckInInterval+toleranceSkew {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func (s *Store) RemoveInstance(ctx context.Context, instanceID string) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withStateAccess(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduler_state WHERE instance_id = $1`, instanceID); err != nil {
			return fmt.Errorf("remove instance: %w", err)
		}
		return nil
	}})
}

// RecoveringJobsGroup is the dedicated trigger group recovery synthesizes
// into, distinguishing recovered work from ordinary DEFAULT-group triggers.
const RecoveringJobsGroup = "RECOVERING_JOBS"

// RecoverJobs re-synthesizes WAITING triggers for every FiredTrigger row
// owned by instanceID whose job RequestsRecovery, and removes every
// FiredTrigger row owned by instanceID, grounded on memstore's RecoverJobs.
func (s *Store) RecoverJobs(ctx context.Context, instanceID string) (int, error) {
	recovered := 0
	err := withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}

		now := s.clock.Now()
		rows, err := tx.QueryContext(ctx, `
			SELECT entry_id, trigger_group, trigger_name, job_group, job_name, instance_id,
				state, fired_at, scheduled_at, priority, non_concurrent, requests_recovery
			FROM fired_triggers WHERE instance_id = $1
		`, instanceID)
		if err != nil {
			return fmt.Errorf("select fired triggers for instance: %w", err)
		}
		var fired []model.FiredTrigger
		for rows.Next() {
			var ft model.FiredTrigger
			if err := rows.Scan(&ft.EntryID, &ft.TriggerKey.Group, &ft.TriggerKey.Name,
				&ft.JobKey.Group, &ft.JobKey.Name, &ft.InstanceID, &ft.State, &ft.FiredAt,
				&ft.ScheduledAt, &ft.Priority, &ft.NonConcurrent, &ft.RequestsRecovery); err != nil {
				rows.Close()
				return fmt.Errorf("scan fired trigger: %w", err)
			}
			fired = append(fired, ft)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, ft := range fired {
			if ft.RequestsRecovery {
				var origJobData []byte
				err := tx.QueryRowContext(ctx, `SELECT job_data FROM triggers WHERE trigger_group = $1 AND trigger_name = $2`,
					ft.TriggerKey.Group, ft.TriggerKey.Name).Scan(&origJobData)
				if err != nil && err != sql.ErrNoRows {
					return fmt.Errorf("lookup original trigger job data: %w", err)
				}

				jobData, err := mergeRecoveryDataJSON(origJobData, ft)
				if err != nil {
					return err
				}

				recoveryName := "recover_" + instanceID + "_" + ft.EntryID
				res, err := tx.ExecContext(ctx, `
					INSERT INTO triggers (trigger_group, trigger_name, job_group, job_name, state,
						priority, start_time, next_fire_time, misfire_instruction, trigger_type,
						schedule_params, job_data)
					VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
					ON CONFLICT (trigger_group, trigger_name) DO NOTHING
				`, RecoveringJobsGroup, recoveryName, ft.JobKey.Group, ft.JobKey.Name, model.StateWaiting,
					ft.Priority, ft.ScheduledAt, now, int(model.MisfireIgnore), "simple", []byte(`{}`), jobData)
				if err != nil {
					return fmt.Errorf("insert recovery trigger: %w", err)
				}
				n, err := res.RowsAffected()
				if err != nil {
					return fmt.Errorf("recovery trigger rows affected: %w", err)
				}
				if n > 0 {
					recovered++
				}
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM fired_triggers WHERE entry_id = $1`, ft.EntryID); err != nil {
				return fmt.Errorf("delete recovered fired trigger: %w", err)
			}
		}
		return nil
	}})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

func mergeRecoveryDataJSON(orig []byte, ft model.FiredTrigger) ([]byte, error) {
	data := model.JobDataMap{}
	if len(orig) > 0 {
		if err := json.Unmarshal(orig, &data); err != nil {
			return nil, fmt.Errorf("decode original job data: %w", err)
		}
	}
	data["scheduler.recovered_trigger_name"] = ft.TriggerKey.Name
	data["scheduler.recovered_trigger_group"] = ft.TriggerKey.Group
	data["scheduler.scheduled_fire_time"] = ft.ScheduledAt
	data["scheduler.original_fire_time"] = ft.FiredAt
	return json.Marshal(data)
}
