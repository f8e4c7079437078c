// Package store defines the transactional job store contract: the boundary
// between the scheduler core and durable persistence. internal/store/memstore
// and internal/store/pgstore both satisfy JobStore, and both are exercised by
// the shared internal/store/storetest conformance suite.
package store

import (
	"context"
	"time"

	"github.com/target/chronos/internal/model"
)

// AcquireNextTriggersParams bounds a single acquisition call.
type AcquireNextTriggersParams struct {
	// NoLaterThan is the acquisition horizon: only triggers whose
	// NextFireTime is at or before this instant are eligible.
	NoLaterThan time.Time
	// MaxCount bounds the number of triggers returned.
	MaxCount int
	// TimeWindow additionally admits triggers firing within this much
	// further time, batching near-simultaneous fires into one acquisition.
	TimeWindow time.Duration
}

// TriggersFiredResult pairs a successfully-fired trigger with the job
// definition it targets and the FiredTrigger breadcrumb written for it.
type TriggersFiredResult struct {
	Trigger      model.Trigger
	Job          model.JobDefinition
	FiredTrigger model.FiredTrigger
}

// CompletedTriggerDisposition tells TriggeredJobComplete how to leave the
// trigger after the job finished: recompute its next fire time, leave it in
// an error state, or unschedule it entirely.
type CompletedTriggerDisposition string

const (
	DispositionNoop                   CompletedTriggerDisposition = "noop"
	DispositionDelete                 CompletedTriggerDisposition = "delete"
	DispositionSetComplete            CompletedTriggerDisposition = "set_complete"
	DispositionSetError               CompletedTriggerDisposition = "set_error"
	DispositionSetAllJobTriggersError CompletedTriggerDisposition = "set_all_job_triggers_error"
	DispositionSetAllJobTriggersDone  CompletedTriggerDisposition = "set_all_job_triggers_complete"
)

// TriggeredJobCompleteParams carries the outcome of a job execution back
// into the store.
type TriggeredJobCompleteParams struct {
	Trigger        model.Trigger
	FiredTriggerID string
	Disposition    CompletedTriggerDisposition
	NextFireTime   *time.Time // recomputed by the caller before calling in
	// ScheduleParams is the trigger type's own recomputed opaque schedule
	// state (e.g. decremented repeat count), persisted alongside
	// NextFireTime when non-nil.
	ScheduleParams []byte
	JobDataMap     model.JobDataMap
	PersistJobData bool
}

// JobStore is the transactional contract every persistence layer
// implements. Every method is safe to call concurrently from multiple
// instances sharing one store; ordering guarantees are documented per
// method and rely on each implementation's own locking discipline (a single
// mutex for memstore, advisory locks for pgstore).
type JobStore interface {
	// StoreJobAndTrigger persists a job definition and an associated
	// trigger in one transaction. Returns apperr.CodeObjectAlreadyExists if
	// replace is false and either key already exists.
	StoreJobAndTrigger(ctx context.Context, job model.JobDefinition, trig model.Trigger, replace bool) error

	// RemoveJob deletes a job and every trigger associated with it.
	RemoveJob(ctx context.Context, key model.JobKey) error
	// GetJob returns the stored job definition, or apperr.CodeNotFound.
	GetJob(ctx context.Context, key model.JobKey) (model.JobDefinition, error)

	// StoreTrigger adds a trigger for an existing job.
	StoreTrigger(ctx context.Context, trig model.Trigger, replace bool) error
	// RemoveTrigger deletes a trigger. If it was the job's last trigger and
	// the job is non-durable, the job is deleted too.
	RemoveTrigger(ctx context.Context, key model.TriggerKey) error
	// GetTrigger returns the stored trigger, or apperr.CodeNotFound.
	GetTrigger(ctx context.Context, key model.TriggerKey) (model.Trigger, error)

	// AcquireNextTriggers atomically selects and transitions to ACQUIRED up
	// to MaxCount WAITING triggers due at or before NoLaterThan, ordered by
	// (NextFireTime ASC, Priority DESC, TriggerKey ASC). Two instances
	// calling this concurrently against the same store never return
	// overlapping trigger sets (S5).
	AcquireNextTriggers(ctx context.Context, instanceID string, params AcquireNextTriggersParams) ([]model.Trigger, error)

	// TriggersFired transitions the given ACQUIRED triggers to EXECUTING,
	// writes a FiredTrigger row for each, and applies non-concurrent
	// blocking (S3) for jobs with ConcurrentExecutionDisallowed. A trigger
	// dropped in a race (deleted, paused, or already re-acquired elsewhere)
	// is silently omitted from the result.
	TriggersFired(ctx context.Context, instanceID string, triggers []model.Trigger) ([]TriggersFiredResult, error)

	// TriggeredJobComplete applies the post-execution disposition and
	// removes the FiredTrigger breadcrumb. For non-concurrent jobs, it also
	// unblocks any BLOCKED/PAUSED_BLOCKED peer triggers of the same job.
	TriggeredJobComplete(ctx context.Context, params TriggeredJobCompleteParams) error

	// ReleaseAcquiredTrigger returns a trigger from ACQUIRED back to
	// WAITING without firing it (used when TriggersFired's caller gives up
	// before dispatch, e.g. on shutdown).
	ReleaseAcquiredTrigger(ctx context.Context, key model.TriggerKey) error

	// GetMisfiredTriggers returns WAITING triggers whose NextFireTime is
	// older than threshold, oldest first, up to maxCount.
	GetMisfiredTriggers(ctx context.Context, threshold time.Time, maxCount int) ([]model.Trigger, error)
	// UpdateTriggerSchedule persists a trigger type's recomputed schedule
	// (NextFireTime and ScheduleParams) after a misfire resolution or a
	// normal post-fire recompute.
	UpdateTriggerSchedule(ctx context.Context, key model.TriggerKey, nextFireTime *time.Time, scheduleParams []byte) error

	// PauseTrigger / ResumeTrigger / PauseJob / ResumeJob apply the state
	// machine's pause/resume transitions.
	PauseTrigger(ctx context.Context, key model.TriggerKey) error
	ResumeTrigger(ctx context.Context, key model.TriggerKey) error
	PauseJob(ctx context.Context, key model.JobKey) error
	ResumeJob(ctx context.Context, key model.JobKey) error

	// PauseTriggerGroup / ResumeTriggerGroup apply to every trigger in a
	// group and remember the group's paused state even if it currently has
	// no triggers, so a trigger added later to the group starts PAUSED
	// (S6).
	PauseTriggerGroup(ctx context.Context, group string) error
	ResumeTriggerGroup(ctx context.Context, group string) error
	IsTriggerGroupPaused(ctx context.Context, group string) (bool, error)

	// CheckIn upserts instanceID's liveness row with the current time.
	CheckIn(ctx context.Context, instanceID string, interval time.Duration, now time.Time) error
	// FindFailedInstances returns every SchedulerStateRecord whose
	// LastCheckIn is older than tolerance past its own CheckInInterval.
	FindFailedInstances(ctx context.Context, now time.Time, toleranceSkew time.Duration) ([]model.SchedulerStateRecord, error)
	// RemoveInstance deletes a failed instance's liveness row after its
	// work has been recovered.
	RemoveInstance(ctx context.Context, instanceID string) error
	// RecoverJobs re-synthesizes WAITING triggers for every FiredTrigger row
	// owned by instanceID whose job RequestsRecovery, and removes every
	// FiredTrigger row owned by instanceID.
	RecoverJobs(ctx context.Context, instanceID string) (int, error)

	// ClearAllSchedulingData wipes every job, trigger, fired-trigger,
	// calendar, and paused-group row. Used by tests and administrative
	// resets.
	ClearAllSchedulingData(ctx context.Context) error

	// StoreCalendar / RemoveCalendar / GetCalendar manage named calendars
	// referenced by trigger CalendarName.
	StoreCalendar(ctx context.Context, name string, cal model.Calendar, replace bool) error
	RemoveCalendar(ctx context.Context, name string) error
	GetCalendar(ctx context.Context, name string) (model.Calendar, error)
}
