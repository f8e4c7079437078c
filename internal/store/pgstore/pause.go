package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/trigger"
)

func applyTriggerTransitionTx(ctx context.Context, tx *sql.Tx, key model.TriggerKey, apply func(model.TriggerState) model.TriggerState) error {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM triggers WHERE trigger_group = $1 AND trigger_name = $2 FOR UPDATE`,
		key.Group, key.Name).Scan(&state)
	if err == sql.ErrNoRows {
		return apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	if err != nil {
		return fmt.Errorf("lookup trigger: %w", err)
	}
	next := apply(model.TriggerState(state))
	if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
		next, key.Group, key.Name); err != nil {
		return fmt.Errorf("update trigger state: %w", err)
	}
	return nil
}

func (s *Store) PauseTrigger(ctx context.Context, key model.TriggerKey) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		return applyTriggerTransitionTx(ctx, tx, key, trigger.ApplyPause)
	}})
}

func (s *Store) ResumeTrigger(ctx context.Context, key model.TriggerKey) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		return applyTriggerTransitionTx(ctx, tx, key, trigger.ApplyResume)
	}})
}

func applyJobTriggersTx(ctx context.Context, tx *sql.Tx, key model.JobKey, apply func(model.TriggerState) model.TriggerState) error {
	rows, err := tx.QueryContext(ctx, `SELECT trigger_group, trigger_name, state FROM triggers WHERE job_group = $1 AND job_name = $2 FOR UPDATE`,
		key.Group, key.Name)
	if err != nil {
		return fmt.Errorf("select job triggers: %w", err)
	}
	type row struct {
		group, name string
		state       model.TriggerState
	}
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.group, &r.name, &r.state); err != nil {
			rows.Close()
			return fmt.Errorf("scan job trigger: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range out {
		next := apply(r.state)
		if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
			next, r.group, r.name); err != nil {
			return fmt.Errorf("update job trigger state: %w", err)
		}
	}
	return nil
}

func (s *Store) PauseJob(ctx context.Context, key model.JobKey) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		return applyJobTriggersTx(ctx, tx, key, trigger.ApplyPause)
	}})
}

func (s *Store) ResumeJob(ctx context.Context, key model.JobKey) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		return applyJobTriggersTx(ctx, tx, key, trigger.ApplyResume)
	}})
}

func (s *Store) PauseTriggerGroup(ctx context.Context, group string) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO paused_trigger_groups (trigger_group) VALUES ($1) ON CONFLICT DO NOTHING`, group); err != nil {
			return fmt.Errorf("record paused group: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT trigger_group, trigger_name, state FROM triggers WHERE trigger_group = $1 FOR UPDATE`, group)
		if err != nil {
			return fmt.Errorf("select group triggers: %w", err)
		}
		type row struct {
			group, name string
			state       model.TriggerState
		}
		var out []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.group, &r.name, &r.state); err != nil {
				rows.Close()
				return fmt.Errorf("scan group trigger: %w", err)
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		for _, r := range out {
			next := trigger.ApplyPause(r.state)
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
				next, r.group, r.name); err != nil {
				return fmt.Errorf("pause group trigger: %w", err)
			}
		}
		return nil
	}})
}

func (s *Store) ResumeTriggerGroup(ctx context.Context, group string) error {
	return withSQLTx(ctx, s.db, txConfig{Fn: func(tx *sql.Tx) error {
		if err := withTriggerAccess(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM paused_trigger_groups WHERE trigger_group = $1`, group); err != nil {
			return fmt.Errorf("clear paused group: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT trigger_group, trigger_name, state FROM triggers WHERE trigger_group = $1 FOR UPDATE`, group)
		if err != nil {
			return fmt.Errorf("select group triggers: %w", err)
		}
		type row struct {
			group, name string
			state       model.TriggerState
		}
		var out []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.group, &r.name, &r.state); err != nil {
				rows.Close()
				return fmt.Errorf("scan group trigger: %w", err)
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		for _, r := range out {
			next := trigger.ApplyResume(r.state)
			if _, err := tx.ExecContext(ctx, `UPDATE triggers SET state = $1 WHERE trigger_group = $2 AND trigger_name = $3`,
				next, r.group, r.name); err != nil {
				return fmt.Errorf("resume group trigger: %w", err)
			}
		}
		return nil
	}})
}
