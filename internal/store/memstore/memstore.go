// Package memstore is the in-memory JobStore implementation: the default
// store for a single, non-clustered instance and for unit tests of the
// engine, misfire handler, and cluster manager.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/trigger"
)

// Store is a single sync.Mutex-guarded JobStore. It never blocks on I/O, so
// holding the mutex across a whole operation is the correct trade-off,
// mirroring the data.FixedTimeProvider-friendly, single-process
// repository style used in its unit test doubles.
type Store struct {
	mu sync.Mutex

	clock clock.Clock

	jobs      map[model.JobKey]model.JobDefinition
	triggers  map[model.TriggerKey]*triggerRow
	fired     map[string]model.FiredTrigger // keyed by EntryID
	calendars map[string]model.Calendar
	states    map[string]model.SchedulerStateRecord
	pausedGrp map[string]bool
}

type triggerRow struct {
	trig  model.Trigger
	state model.TriggerState
}

// New constructs an empty Store using clk as its time source.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:     clk,
		jobs:      make(map[model.JobKey]model.JobDefinition),
		triggers:  make(map[model.TriggerKey]*triggerRow),
		fired:     make(map[string]model.FiredTrigger),
		calendars: make(map[string]model.Calendar),
		states:    make(map[string]model.SchedulerStateRecord),
		pausedGrp: make(map[string]bool),
	}
}

var _ store.JobStore = (*Store)(nil)

func (s *Store) StoreJobAndTrigger(_ context.Context, job model.JobDefinition, trig model.Trigger, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !replace {
		if _, ok := s.jobs[job.Key]; ok {
			return apperr.AlreadyExists(job.Key.String())
		}
		if _, ok := s.triggers[trig.Key]; ok {
			return apperr.AlreadyExists(trig.Key.String())
		}
	}

	initial := model.StateWaiting
	if s.pausedGrp[trig.Key.Group] {
		initial = model.StatePaused
	}
	if err := trigger.Validate("", initial); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "invalid initial trigger state")
	}

	s.jobs[job.Key] = job
	s.triggers[trig.Key] = &triggerRow{trig: trig, state: initial}
	return nil
}

func (s *Store) RemoveJob(_ context.Context, key model.JobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[key]; !ok {
		return apperr.New(apperr.CodeNotFound, "job not found")
	}
	delete(s.jobs, key)
	for k, row := range s.triggers {
		if row.trig.JobKey == key {
			delete(s.triggers, k)
		}
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, key model.JobKey) (model.JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[key]
	if !ok {
		return model.JobDefinition{}, apperr.New(apperr.CodeNotFound, "job not found")
	}
	return job, nil
}

func (s *Store) StoreTrigger(_ context.Context, trig model.Trigger, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[trig.JobKey]; !ok {
		return apperr.New(apperr.CodeNotFound, "job not found for trigger")
	}
	if !replace {
		if _, ok := s.triggers[trig.Key]; ok {
			return apperr.AlreadyExists(trig.Key.String())
		}
	}
	initial := model.StateWaiting
	if s.pausedGrp[trig.Key.Group] {
		initial = model.StatePaused
	}
	s.triggers[trig.Key] = &triggerRow{trig: trig, state: initial}
	return nil
}

func (s *Store) RemoveTrigger(_ context.Context, key model.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.triggers[key]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	jobKey := row.trig.JobKey
	delete(s.triggers, key)

	if !s.hasOtherTriggers(jobKey, key) {
		if job, ok := s.jobs[jobKey]; ok && !job.Durable {
			delete(s.jobs, jobKey)
		}
	}
	return nil
}

func (s *Store) hasOtherTriggers(jobKey model.JobKey, exclude model.TriggerKey) bool {
	for k, row := range s.triggers {
		if k == exclude {
			continue
		}
		if row.trig.JobKey == jobKey {
			return true
		}
	}
	return false
}

func (s *Store) GetTrigger(_ context.Context, key model.TriggerKey) (model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.triggers[key]
	if !ok {
		return model.Trigger{}, apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	return row.trig, nil
}

func (s *Store) AcquireNextTriggers(
	_ context.Context,
	instanceID string,
	params store.AcquireNextTriggersParams,
) ([]model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := params.NoLaterThan.Add(params.TimeWindow)

	var candidates []*triggerRow
	for _, row := range s.triggers {
		if row.state != model.StateWaiting {
			continue
		}
		if row.trig.NextFireTime == nil || row.trig.NextFireTime.After(horizon) {
			continue
		}
		candidates = append(candidates, row)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].trig, candidates[j].trig
		if !a.NextFireTime.Equal(*b.NextFireTime) {
			return a.NextFireTime.Before(*b.NextFireTime)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Key.String() < b.Key.String()
	})

	if params.MaxCount > 0 && len(candidates) > params.MaxCount {
		candidates = candidates[:params.MaxCount]
	}

	out := make([]model.Trigger, 0, len(candidates))
	for _, row := range candidates {
		if err := trigger.Validate(row.state, model.StateAcquired); err != nil {
			continue
		}
		row.state = model.StateAcquired
		out = append(out, row.trig)
	}
	_ = instanceID
	return out, nil
}

func (s *Store) TriggersFired(
	_ context.Context,
	instanceID string,
	triggers []model.Trigger,
) ([]store.TriggersFiredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	results := make([]store.TriggersFiredResult, 0, len(triggers))

	for _, t := range triggers {
		row, ok := s.triggers[t.Key]
		if !ok || row.state != model.StateAcquired {
			continue // lost the race or deleted; silently omitted per contract
		}
		job, ok := s.jobs[t.JobKey]
		if !ok {
			continue
		}

		if err := trigger.Validate(row.state, model.StateExecuting); err != nil {
			continue
		}
		row.state = model.StateExecuting

		ft := model.FiredTrigger{
			EntryID:          uuid.NewString(),
			TriggerKey:       t.Key,
			JobKey:           t.JobKey,
			InstanceID:       instanceID,
			State:            model.FiredStateExecuting,
			FiredAt:          now,
			ScheduledAt:      derefTime(row.trig.NextFireTime, now),
			Priority:         row.trig.Priority,
			NonConcurrent:    job.ConcurrentExecutionDisallowed,
			RequestsRecovery: job.RequestsRecovery,
		}
		s.fired[ft.EntryID] = ft

		if job.ConcurrentExecutionDisallowed {
			s.blockPeers(t.JobKey, t.Key)
		}

		results = append(results, store.TriggersFiredResult{Trigger: row.trig, Job: job, FiredTrigger: ft})
	}
	return results, nil
}

func (s *Store) blockPeers(jobKey model.JobKey, except model.TriggerKey) {
	for k, row := range s.triggers {
		if k == except || row.trig.JobKey != jobKey {
			continue
		}
		if row.state == model.StateWaiting || row.state == model.StatePaused {
			row.state = trigger.ApplyBlock(row.state)
		}
	}
}

func (s *Store) unblockPeers(jobKey model.JobKey) {
	for _, row := range s.triggers {
		if row.trig.JobKey != jobKey {
			continue
		}
		if trigger.Blocked(row.state) {
			row.state = trigger.ApplyUnblock(row.state)
		}
	}
}

func (s *Store) TriggeredJobComplete(_ context.Context, params store.TriggeredJobCompleteParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fired, params.FiredTriggerID)

	row, ok := s.triggers[params.Trigger.Key]
	if !ok {
		return nil // already deleted concurrently
	}

	switch params.Disposition {
	case store.DispositionDelete:
		delete(s.triggers, params.Trigger.Key)
	case store.DispositionSetComplete:
		row.state = model.StateComplete
	case store.DispositionSetError:
		row.state = model.StateError
	case store.DispositionSetAllJobTriggersError:
		for _, peer := range s.triggers {
			if peer.trig.JobKey == params.Trigger.JobKey {
				peer.state = model.StateError
			}
		}
	case store.DispositionSetAllJobTriggersDone:
		for _, peer := range s.triggers {
			if peer.trig.JobKey == params.Trigger.JobKey {
				peer.state = model.StateComplete
			}
		}
	default: // noop: resume normal waiting with recomputed schedule
		row.trig.PreviousFireTime = row.trig.NextFireTime
		row.trig.NextFireTime = params.NextFireTime
		if params.ScheduleParams != nil {
			row.trig.ScheduleParams = params.ScheduleParams
		}
		if row.trig.NextFireTime == nil {
			row.state = model.StateComplete
		} else if row.state != model.StatePaused && row.state != model.StatePausedBlocked {
			row.state = model.StateWaiting
		}
	}

	if params.PersistJobData {
		if job, ok := s.jobs[params.Trigger.JobKey]; ok {
			job.JobDataMap = params.JobDataMap.Clone()
			s.jobs[params.Trigger.JobKey] = job
		}
	}

	s.unblockPeers(params.Trigger.JobKey)
	return nil
}

func (s *Store) ReleaseAcquiredTrigger(_ context.Context, key model.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.triggers[key]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	if row.state == model.StateAcquired {
		row.state = model.StateWaiting
	}
	return nil
}

func (s *Store) GetMisfiredTriggers(_ context.Context, threshold time.Time, maxCount int) ([]model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Trigger
	for _, row := range s.triggers {
		if row.state != model.StateWaiting {
			continue
		}
		if row.trig.NextFireTime == nil || !row.trig.NextFireTime.Before(threshold) {
			continue
		}
		out = append(out, row.trig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextFireTime.Before(*out[j].NextFireTime)
	})
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}

func (s *Store) UpdateTriggerSchedule(
	_ context.Context,
	key model.TriggerKey,
	nextFireTime *time.Time,
	scheduleParams []byte,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.triggers[key]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	row.trig.NextFireTime = nextFireTime
	if scheduleParams != nil {
		row.trig.ScheduleParams = scheduleParams
	}
	if nextFireTime == nil && row.state == model.StateWaiting {
		if err := trigger.Validate(row.state, model.StateComplete); err != nil {
			return err
		}
		row.state = model.StateComplete
	}
	return nil
}

func (s *Store) PauseTrigger(_ context.Context, key model.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.triggers[key]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	row.state = trigger.ApplyPause(row.state)
	return nil
}

func (s *Store) ResumeTrigger(_ context.Context, key model.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.triggers[key]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "trigger not found")
	}
	row.state = trigger.ApplyResume(row.state)
	return nil
}

func (s *Store) PauseJob(_ context.Context, key model.JobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.triggers {
		if row.trig.JobKey == key {
			row.state = trigger.ApplyPause(row.state)
		}
	}
	return nil
}

func (s *Store) ResumeJob(_ context.Context, key model.JobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.triggers {
		if row.trig.JobKey == key {
			row.state = trigger.ApplyResume(row.state)
		}
	}
	return nil
}

func (s *Store) PauseTriggerGroup(_ context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pausedGrp[group] = true
	for _, row := range s.triggers {
		if row.trig.Key.Group == group {
			row.state = trigger.ApplyPause(row.state)
		}
	}
	return nil
}

func (s *Store) ResumeTriggerGroup(_ context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pausedGrp, group)
	for _, row := range s.triggers {
		if row.trig.Key.Group == group {
			row.state = trigger.ApplyResume(row.state)
		}
	}
	return nil
}

func (s *Store) IsTriggerGroupPaused(_ context.Context, group string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedGrp[group], nil
}

func (s *Store) CheckIn(_ context.Context, instanceID string, interval time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[instanceID] = model.SchedulerStateRecord{
		InstanceID:      instanceID,
		LastCheckIn:     now,
		CheckInInterval: interval,
	}
	return nil
}

func (s *Store) FindFailedInstances(
	_ context.Context,
	now time.Time,
	toleranceSkew time.Duration,
) ([]model.SchedulerStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.SchedulerStateRecord
	for _, rec := range s.states {
		if now.Sub(rec.LastCheckIn) > rec.CheckInInterval+toleranceSkew {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) RemoveInstance(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, instanceID)
	return nil
}

// RecoveringJobsGroup is the dedicated trigger group recovery synthesizes
// into, distinguishing recovered work from ordinary DEFAULT-group triggers.
const RecoveringJobsGroup = "RECOVERING_JOBS"

func (s *Store) RecoverJobs(_ context.Context, instanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	recovered := 0
	for id, ft := range s.fired {
		if ft.InstanceID != instanceID {
			continue
		}
		if ft.RequestsRecovery {
			if row, ok := s.triggers[ft.TriggerKey]; ok {
				recoveryKey := model.TriggerKey{
					Name:  "recover_" + instanceID + "_" + ft.EntryID,
					Group: RecoveringJobsGroup,
				}
				if _, exists := s.triggers[recoveryKey]; !exists {
					s.triggers[recoveryKey] = &triggerRow{
						state: model.StateWaiting,
						trig: model.Trigger{
							Key:                recoveryKey,
							JobKey:             ft.JobKey,
							Priority:           ft.Priority,
							StartTime:          ft.ScheduledAt,
							NextFireTime:       timePtr(now),
							MisfireInstruction: model.MisfireIgnore,
							Type:               "simple",
							JobDataMap:         mergeRecoveryData(row.trig.JobDataMap, ft),
						},
					}
					recovered++
				}
			}
		}
		delete(s.fired, id)
	}
	return recovered, nil
}

func mergeRecoveryData(base model.JobDataMap, ft model.FiredTrigger) model.JobDataMap {
	out := base.Clone()
	if out == nil {
		out = model.JobDataMap{}
	}
	out["scheduler.recovered_trigger_name"] = ft.TriggerKey.Name
	out["scheduler.recovered_trigger_group"] = ft.TriggerKey.Group
	out["scheduler.scheduled_fire_time"] = ft.ScheduledAt
	out["scheduler.original_fire_time"] = ft.FiredAt
	return out
}

func (s *Store) ClearAllSchedulingData(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[model.JobKey]model.JobDefinition)
	s.triggers = make(map[model.TriggerKey]*triggerRow)
	s.fired = make(map[string]model.FiredTrigger)
	s.calendars = make(map[string]model.Calendar)
	s.pausedGrp = make(map[string]bool)
	return nil
}

func (s *Store) StoreCalendar(_ context.Context, name string, cal model.Calendar, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !replace {
		if _, ok := s.calendars[name]; ok {
			return apperr.AlreadyExists(name)
		}
	}
	s.calendars[name] = cal
	return nil
}

func (s *Store) RemoveCalendar(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calendars[name]; !ok {
		return apperr.New(apperr.CodeNotFound, "calendar not found")
	}
	delete(s.calendars, name)
	return nil
}

func (s *Store) GetCalendar(_ context.Context, name string) (model.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, ok := s.calendars[name]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "calendar not found")
	}
	return cal, nil
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func timePtr(t time.Time) *time.Time { return &t }
