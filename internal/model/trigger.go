package model

import (
	"encoding/json"
	"time"
)

// TriggerState is the trigger state machine's current state for a trigger
// row. Persisted states never include Deleted; a deleted trigger is simply
// absent from the store.
type TriggerState string

const (
	StateWaiting       TriggerState = "WAITING"
	StateAcquired      TriggerState = "ACQUIRED"
	StateExecuting     TriggerState = "EXECUTING"
	StateComplete      TriggerState = "COMPLETE"
	StatePaused        TriggerState = "PAUSED"
	StateBlocked       TriggerState = "BLOCKED"
	StatePausedBlocked TriggerState = "PAUSED_BLOCKED"
	StateError         TriggerState = "ERROR"
	StateDeleted       TriggerState = "DELETED"
)

// MisfireInstruction selects how a trigger type recomputes its schedule
// after missing its fire window past the configured threshold.
type MisfireInstruction int

const (
	// MisfireSmartPolicy lets the trigger type pick an instruction suited to
	// its own semantics.
	MisfireSmartPolicy MisfireInstruction = 0
	// MisfireIgnore fires every missed occurrence as soon as possible.
	MisfireIgnore MisfireInstruction = -1
)

// Trigger is the persisted schedule attached to a job.
type Trigger struct {
	Key      TriggerKey
	JobKey   JobKey
	Priority int // higher fires first among triggers with equal NextFireTime

	CalendarName string

	StartTime time.Time
	EndTime   *time.Time

	PreviousFireTime *time.Time
	NextFireTime     *time.Time

	MisfireInstruction MisfireInstruction

	// Type names the registered triggertype.Handle that owns schedule
	// computation for this trigger (e.g. "simple", "cron").
	Type string
	// ScheduleParams is the trigger type's own opaque schedule
	// configuration (interval+repeat count, cron expression, ...).
	ScheduleParams json.RawMessage

	JobDataMap JobDataMap
}

// Calendar excludes instants from a trigger's computed fire times.
type Calendar interface {
	IsTimeIncluded(t time.Time) bool
}

// FiredTriggerState tracks an in-flight or recently-completed fire
// independent of the owning Trigger row, so a crashed instance's unfinished
// work is discoverable by its peers.
type FiredTriggerState string

const (
	FiredStateAcquired  FiredTriggerState = "ACQUIRED"
	FiredStateExecuting FiredTriggerState = "EXECUTING"
)

// FiredTrigger is the crash-recovery breadcrumb written when an acquired
// trigger fires (TriggersFired), in state EXECUTING.
type FiredTrigger struct {
	EntryID     string
	TriggerKey  TriggerKey
	JobKey      JobKey
	InstanceID  string
	State       FiredTriggerState
	FiredAt     time.Time
	ScheduledAt time.Time
	Priority    int

	NonConcurrent    bool
	RequestsRecovery bool
	LeaseExpiresAt   time.Time
}

// SchedulerStateRecord is a single cluster peer's liveness row.
type SchedulerStateRecord struct {
	InstanceID      string
	LastCheckIn     time.Time
	CheckInInterval time.Duration
}

// PausedTriggerGroup records that a trigger group is paused, including
// groups that do not yet have any triggers, so a trigger added later to a
// paused group starts PAUSED (S6).
type PausedTriggerGroup struct {
	GroupName string
}
