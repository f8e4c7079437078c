// Package triggertype defines the schedule computation boundary: the core
// consumes a trigger's schedule only through this interface, never through a
// concrete cron or interval implementation. internal/triggertype/simple and
// internal/triggertype/cron are example implementations, not core.
package triggertype

import (
	"encoding/json"
	"time"

	"github.com/target/chronos/internal/model"
)

// Handle is the schedule-computation contract one trigger type implements.
// Every method is pure given its inputs: it reads only the passed Trigger's
// ScheduleParams and returns the next ScheduleParams to persist, never
// mutating the Trigger itself.
type Handle interface {
	// Name identifies this trigger type; it is what model.Trigger.Type must
	// equal for Registry.Lookup to resolve to this Handle.
	Name() string

	// ComputeFirstFireTime returns the first fire time at or after
	// t.StartTime admitted by cal (nil cal admits every instant), plus the
	// ScheduleParams to persist alongside it.
	ComputeFirstFireTime(t model.Trigger, cal model.Calendar) (time.Time, json.RawMessage, error)

	// ComputeNextFireTime returns the next fire time strictly after `after`
	// admitted by cal, or a nil time if the trigger has no more fires (its
	// schedule is exhausted or past t.EndTime).
	ComputeNextFireTime(t model.Trigger, after time.Time, cal model.Calendar) (*time.Time, json.RawMessage, error)

	// UpdateAfterMisfire resolves t's MisfireInstruction (including
	// MisfireSmartPolicy) as of now, returning the nextFireTime and
	// ScheduleParams to persist. A nil nextFireTime means the trigger is
	// exhausted and should transition to StateComplete.
	UpdateAfterMisfire(t model.Trigger, now time.Time) (*time.Time, json.RawMessage, error)

	// MayFireAgain reports whether t could still fire in the future given
	// its current ScheduleParams, independent of calendar exclusions.
	MayFireAgain(t model.Trigger) bool
}

// Registry resolves a trigger's Type string to the Handle that owns its
// schedule computation.
type Registry struct {
	handles map[string]Handle
}

// NewRegistry returns an empty Registry. Register handles before use.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register adds h under h.Name(), overwriting any previous handle registered
// under the same name.
func (r *Registry) Register(h Handle) {
	r.handles[h.Name()] = h
}

// Lookup returns the Handle registered for name, if any.
func (r *Registry) Lookup(name string) (Handle, bool) {
	h, ok := r.handles[name]
	return h, ok
}
