// Package pgstore is the relational JobStore implementation: a
// database/sql-over-pgx/v5 store for clustered deployments, directly
// grounded on internal/data/scheduled_jobs_repo.go
// (FOR UPDATE SKIP LOCKED acquisition, pg_advisory_xact_lock locking,
// transaction-wrapped writes in tx.go). Every operation satisfies the same
// store.JobStore contract and storetest conformance suite as memstore.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/trigger"
)

// Store is the pgx-backed JobStore. DB is typically opened with
// sql.Open("pgx", dsn) against the jackc/pgx/v5 stdlib driver.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// New constructs a Store over an already-migrated database. Run
// internal/store/pgstore/migrate.Run first.
func New(db *sql.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{db: db, clock: clk}
}

var _ store.JobStore = (*Store)(nil)

// isUniqueViolation classifies a driver error by its PostgreSQL SQLSTATE
// code, the same *pgconn.PgError-and-pgerrcode pattern
// internal/http/form_handler.go uses to turn a unique-constraint violation
// into a field-level error instead of a generic one.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (s *Store) StoreJobAndTrigger(ctx context.Context, job model.JobDefinition, trig model.Trigger, replace bool) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}

		initial := model.StateWaiting
		paused, err := isGroupPausedTx(ctx, tx, trig.Key.Group)
		if err != nil {
			return err
		}
		if paused {
			initial = model.StatePaused
		}
		if err := trigger.Validate("", initial); err != nil {
			return apperr.Wrap(err, apperr.CodeValidation, "invalid initial trigger state")
		}

		if err := upsertJobTx(ctx, tx, job, replace); err != nil {
			return err
		}
		return upsertTriggerTx(ctx, tx, trig, initial, replace)
	}})
}

func upsertJobTx(ctx context.Context, tx *sql.Tx, job model.JobDefinition, replace bool) error {
	jobData, err := json.Marshal(job.JobDataMap)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "encode job data")
	}

	if replace {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (job_group, job_name, job_type, durable, persist_job_data_after_execution,
				concurrent_execution_disallowed, requests_recovery, job_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_group, job_name) DO UPDATE SET
				job_type = EXCLUDED.job_type,
				durable = EXCLUDED.durable,
				persist_job_data_after_execution = EXCLUDED.persist_job_data_after_execution,
				concurrent_execution_disallowed = EXCLUDED.concurrent_execution_disallowed,
				requests_recovery = EXCLUDED.requests_recovery,
				job_data = EXCLUDED.job_data
		`, job.Key.Group, job.Key.Name, job.Type, job.Durable, job.PersistJobDataAfterExecution,
			job.ConcurrentExecutionDisallowed, job.RequestsRecovery, jobData)
		if err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (job_group, job_name, job_type, durable, persist_job_data_after_execution,
			concurrent_execution_disallowed, requests_recovery, job_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.Key.Group, job.Key.Name, job.Type, job.Durable, job.PersistJobDataAfterExecution,
		job.ConcurrentExecutionDisallowed, job.RequestsRecovery, jobData)
	if isUniqueViolation(err) {
		return apperr.AlreadyExists(job.Key.String())
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func upsertTriggerTx(ctx context.Context, tx *sql.Tx, trig model.Trigger, state model.TriggerState, replace bool) error {
	scheduleParams := trig.ScheduleParams
	if scheduleParams == nil {
		scheduleParams = json.RawMessage(`{}`)
	}
	jobData, err := json.Marshal(trig.JobDataMap)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "encode trigger job data")
	}

	if replace {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO triggers (trigger_group, trigger_name, job_group, job_name, state, priority,
				calendar_name, start_time, end_time, previous_fire_time, next_fire_time,
				misfire_instruction, trigger_type, schedule_params, job_data)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (trigger_group, trigger_name) DO UPDATE SET
				job_group = EXCLUDED.job_group, job_name = EXCLUDED.job_name, state = EXCLUDED.state,
				priority = EXCLUDED.priority, calendar_name = EXCLUDED.calendar_name,
				start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
				previous_fire_time = EXCLUDED.previous_fire_time, next_fire_time = EXCLUDED.next_fire_time,
				misfire_instruction = EXCLUDED.misfire_instruction, trigger_type = EXCLUDED.trigger_type,
				schedule_params = EXCLUDED.schedule_params, job_data = EXCLUDED.job_data
		`, trig.Key.Group, trig.Key.Name, trig.JobKey.Group, trig.JobKey.Name, state, trig.Priority,
			nullString(trig.CalendarName), trig.StartTime, trig.EndTime, trig.PreviousFireTime, trig.NextFireTime,
			int(trig.MisfireInstruction), trig.Type, scheduleParams, jobData)
		if err != nil {
			return fmt.Errorf("upsert trigger: %w", err)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO triggers (trigger_group, trigger_name, job_group, job_name, state, priority,
			calendar_name, start_time, end_time, previous_fire_time, next_fire_time,
			misfire_instruction, trigger_type, schedule_params, job_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, trig.Key.Group, trig.Key.Name, trig.JobKey.Group, trig.JobKey.Name, state, trig.Priority,
		nullString(trig.CalendarName), trig.StartTime, trig.EndTime, trig.PreviousFireTime, trig.NextFireTime,
		int(trig.MisfireInstruction), trig.Type, scheduleParams, jobData)
	if isUniqueViolation(err) {
		return apperr.AlreadyExists(trig.Key.String())
	}
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) RemoveJob(ctx context.Context, key model.JobKey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_group = $1 AND job_name = $2`, key.Group, key.Name)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeNotFound, "job not found")
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, key model.JobKey) (model.JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_group, job_name, job_type, durable, persist_job_data_after_execution,
			concurrent_execution_disallowed, requests_recovery, job_data
		FROM jobs WHERE job_group = $1 AND job_name = $2
	`, key.Group, key.Name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobDefinition{}, apperr.New(apperr.CodeNotFound, "job not found")
	}
	if err != nil {
		return model.JobDefinition{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (model.JobDefinition, error) {
	var job model.JobDefinition
	var jobData []byte
	if err := row.Scan(&job.Key.Group, &job.Key.Name, &job.Type, &job.Durable,
		&job.PersistJobDataAfterExecution, &job.ConcurrentExecutionDisallowed,
		&job.RequestsRecovery, &jobData); err != nil {
		return model.JobDefinition{}, err
	}
	if len(jobData) > 0 {
		if err := json.Unmarshal(jobData, &job.JobDataMap); err != nil {
			return model.JobDefinition{}, fmt.Errorf("decode job data: %w", err)
		}
	}
	return job, nil
}

func (s *Store) StoreTrigger(ctx context.Context, trig model.Trigger, replace bool) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE job_group=$1 AND job_name=$2)`,
			trig.JobKey.Group, trig.JobKey.Name).Scan(&exists); err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if !exists {
			return apperr.New(apperr.CodeNotFound, "job not found for trigger")
		}
		initial := model.StateWaiting
		paused, err := isGroupPausedTx(ctx, tx, trig.Key.Group)
		if err != nil {
			return err
		}
		if paused {
			initial = model.StatePaused
		}
		return upsertTriggerTx(ctx, tx, trig, initial, replace)
	}})
}

func (s *Store) RemoveTrigger(ctx context.Context, key model.TriggerKey) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}

		var jobGroup, jobName string
		err := tx.QueryRowContext(ctx, `SELECT job_group, job_name FROM triggers WHERE trigger_group=$1 AND trigger_name=$2`,
			key.Group, key.Name).Scan(&jobGroup, &jobName)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.CodeNotFound, "trigger not found")
		}
		if err != nil {
			return fmt.Errorf("lookup trigger's job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE trigger_group=$1 AND trigger_name=$2`,
			key.Group, key.Name); err != nil {
			return fmt.Errorf("delete trigger: %w", err)
		}

		var otherTriggers int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM triggers WHERE job_group=$1 AND job_name=$2`,
			jobGroup, jobName).Scan(&otherTriggers); err != nil {
			return fmt.Errorf("count peer triggers: %w", err)
		}
		if otherTriggers > 0 {
			return nil
		}

		var durable bool
		err = tx.QueryRowContext(ctx, `SELECT durable FROM jobs WHERE job_group=$1 AND job_name=$2`,
			jobGroup, jobName).Scan(&durable)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup job durability: %w", err)
		}
		if !durable {
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_group=$1 AND job_name=$2`,
				jobGroup, jobName); err != nil {
				return fmt.Errorf("delete non-durable job: %w", err)
			}
		}
		return nil
	}})
}

func (s *Store) GetTrigger(ctx context.Context, key model.TriggerKey) (model.Trigger, error) {
	row := s.db.QueryRowContext(ctx, triggerSelectSQL+` WHERE trigger_group = $1 AND trigger_name = $2`, key.Group, key.Name)
	trig, _, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trigger{}, apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	if err != nil {
		return model.Trigger{}, fmt.Errorf("scan trigger: %w", err)
	}
	return trig, nil
}

const triggerSelectSQL = `
	SELECT trigger_group, trigger_name, job_group, job_name, state, priority, calendar_name,
		start_time, end_time, previous_fire_time, next_fire_time, misfire_instruction,
		trigger_type, schedule_params, job_data
	FROM triggers
`

func scanTrigger(row scannable) (model.Trigger, model.TriggerState, error) {
	var t model.Trigger
	var state string
	var calendarName sql.NullString
	var scheduleParams, jobData []byte
	if err := row.Scan(&t.Key.Group, &t.Key.Name, &t.JobKey.Group, &t.JobKey.Name, &state, &t.Priority,
		&calendarName, &t.StartTime, &t.EndTime, &t.PreviousFireTime, &t.NextFireTime,
		&t.MisfireInstruction, &t.Type, &scheduleParams, &jobData); err != nil {
		return model.Trigger{}, "", err
	}
	if calendarName.Valid {
		t.CalendarName = calendarName.String
	}
	if len(scheduleParams) > 0 {
		t.ScheduleParams = scheduleParams
	}
	if len(jobData) > 0 {
		if err := json.Unmarshal(jobData, &t.JobDataMap); err != nil {
			return model.Trigger{}, "", fmt.Errorf("decode trigger job data: %w", err)
		}
	}
	return t, model.TriggerState(state), nil
}

func isGroupPausedTx(ctx context.Context, tx *sql.Tx, group string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM paused_trigger_groups WHERE trigger_group = $1)`, group).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check paused group: %w", err)
	}
	return exists, nil
}

func (s *Store) IsTriggerGroupPaused(ctx context.Context, group string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM paused_trigger_groups WHERE trigger_group = $1)`, group).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check paused group: %w", err)
	}
	return exists, nil
}
