// Package runner implements the Job Runner Pool: a bounded set of worker
// slots that execute fired jobs and report their outcome back to the job
// store, grounded on internal/adapters/jobrunner.Runner's
// worker-goroutine-per-slot + notify-channel-wakeup shape.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/observability/metrics"
	"github.com/target/chronos/internal/observability/statsd"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/triggertype"
)

// JobExecutionContext is passed to a JobExecutor's Execute method.
// JobDataMap is the job's data map overlaid with the trigger's; Interrupted
// reports whether Interrupt was called for this specific fire.
type JobExecutionContext struct {
	Ctx         context.Context
	Job         model.JobDefinition
	Trigger     model.Trigger
	FireInstanceID string
	ScheduledAt time.Time
	FiredAt     time.Time
	JobDataMap  model.JobDataMap

	interrupted *atomic.Bool
}

// Interrupted reports whether Interrupt has been called for this fire.
// Cooperation is the executor's responsibility.
func (c *JobExecutionContext) Interrupted() bool {
	return c.interrupted.Load()
}

// JobExecutor runs one job type's work. Implementations should return a
// JobExecution-flagged *apperr.Error (via apperr.JobExecution) to control
// refire/unschedule behavior; any other error is treated as a plain
// execution failure with no special disposition.
type JobExecutor interface {
	Execute(ec *JobExecutionContext) error
}

// Registry resolves a job's Type string to the JobExecutor that runs it.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]JobExecutor
}

// NewRegistry returns an empty executor Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]JobExecutor)}
}

// Register adds executor under jobType, overwriting any previous
// registration under the same name.
func (r *Registry) Register(jobType string, executor JobExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[jobType] = executor
}

// Lookup returns the JobExecutor registered for jobType, if any.
func (r *Registry) Lookup(jobType string) (JobExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[jobType]
	return e, ok
}

// Pool is the bounded worker-slot pool. Slots is the concurrency bound,
// overridden by config.SchedulerConfig.RunnerConcurrency here.
type Pool struct {
	store     store.JobStore
	clock     clock.Clock
	signaler  signal.Signaler
	executors *Registry
	types     *triggertype.Registry
	logger    *slog.Logger
	metrics   statsd.Sink

	slots chan struct{}

	mu          sync.Mutex
	interrupts  map[string]*atomic.Bool // keyed by FireInstanceID
	byTrigger   map[model.TriggerKey]string
	wg          sync.WaitGroup
}

// Options configures a new Pool.
type Options struct {
	Store     store.JobStore
	Clock     clock.Clock
	Signaler  signal.Signaler
	Executors *Registry
	// Types resolves a fired trigger's next fire time after a successful
	// execution. May be nil, in which case successful fires always
	// transition their trigger to COMPLETE (no type-aware recompute).
	Types   *triggertype.Registry
	Slots   int
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// New constructs a Pool with the given slot count.
func New(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	n := opts.Slots
	if n <= 0 {
		n = 10
	}
	return &Pool{
		store:      opts.Store,
		clock:      clk,
		signaler:   opts.Signaler,
		executors:  opts.Executors,
		types:      opts.Types,
		logger:     logger.With("component", "job_runner_pool"),
		metrics:    opts.Metrics,
		slots:      make(chan struct{}, n),
		interrupts: make(map[string]*atomic.Bool),
		byTrigger:  make(map[model.TriggerKey]string),
	}
}

// TryAcquireSlot attempts to reserve a worker slot without blocking,
// reporting whether a slot was free (step 1 of the scheduler loop's
// acquire/wait/fire cycle consults this non-blocking to size its batch).
func (p *Pool) TryAcquireSlot() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// AvailableSlots reports how many worker slots are currently free.
func (p *Pool) AvailableSlots() int {
	return cap(p.slots) - len(p.slots)
}

// Submit runs result on a previously-acquired slot (see TryAcquireSlot). It
// returns immediately; the job executes on its own goroutine. The slot is
// released back to the pool before TriggeredJobComplete is called, so a
// freed slot is available to the scheduler loop before the store call
// returns.
func (p *Pool) Submit(ctx context.Context, result store.TriggersFiredResult) {
	interrupted := &atomic.Bool{}
	fireID := result.FiredTrigger.EntryID

	p.mu.Lock()
	p.interrupts[fireID] = interrupted
	p.byTrigger[result.Trigger.Key] = fireID
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.interrupts, fireID)
			delete(p.byTrigger, result.Trigger.Key)
			p.mu.Unlock()
		}()
		p.run(ctx, result, interrupted)
	}()
}

func (p *Pool) run(ctx context.Context, result store.TriggersFiredResult, interrupted *atomic.Bool) {
	start := p.clock.Now()
	ec := &JobExecutionContext{
		Ctx:            ctx,
		Job:            result.Job,
		Trigger:        result.Trigger,
		FireInstanceID: result.FiredTrigger.EntryID,
		ScheduledAt:    result.FiredTrigger.ScheduledAt,
		FiredAt:        result.FiredTrigger.FiredAt,
		JobDataMap:     mergedData(result.Job, result.Trigger),
		interrupted:    interrupted,
	}

	execErr := p.execute(ec)

	// Release the slot before calling TriggeredJobComplete, so the
	// scheduler loop can acquire new work in parallel with this store call.
	<-p.slots

	disposition, nextFireTime, scheduleParams, jobData, persist := p.classify(ec, execErr)

	completeErr := p.store.TriggeredJobComplete(ctx, store.TriggeredJobCompleteParams{
		Trigger:        result.Trigger,
		FiredTriggerID: result.FiredTrigger.EntryID,
		Disposition:    disposition,
		NextFireTime:   nextFireTime,
		ScheduleParams: scheduleParams,
		JobDataMap:     jobData,
		PersistJobData: persist,
	})
	if completeErr != nil {
		p.logger.ErrorContext(ctx, "triggered job complete failed", "trigger", result.Trigger.Key.String(), "error", completeErr)
	}

	p.emit(result.Job.Type, execErr, start)
	p.signaler.SignalSchedulingChange(ctx)
	if execErr != nil {
		p.signaler.NotifyFinalized(ctx, result.Trigger.Key.Name)
	}
}

func (p *Pool) execute(ec *JobExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.CodeJobExecution, "job panicked: %v", r)
		}
	}()

	executor, ok := p.executors.Lookup(ec.Job.Type)
	if !ok {
		return apperr.Newf(apperr.CodeSchedulerOperation, "no executor registered for job type %q", ec.Job.Type)
	}
	return executor.Execute(ec)
}

// classify maps an execution outcome to a store disposition, following the
// JobExecution-flag convention (RefireImmediately,
// UnscheduleFiringTrigger, UnscheduleAllTriggers) mirrored from
// internal/errors.AppError's exception-flag style. On success it
// also recomputes the trigger's next fire time through its registered
// trigger type, so a repeating trigger rejoins its own schedule rather than
// completing after one fire.
func (p *Pool) classify(ec *JobExecutionContext, err error) (
	disposition store.CompletedTriggerDisposition,
	nextFireTime *time.Time,
	scheduleParams []byte,
	jobData model.JobDataMap,
	persist bool,
) {
	jobData = ec.JobDataMap
	persist = ec.Job.PersistJobDataAfterExecution

	if err == nil {
		nextFireTime, scheduleParams = p.computeNextFireTime(ec)
		return store.DispositionNoop, nextFireTime, scheduleParams, jobData, persist
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		nextFireTime, scheduleParams = p.computeNextFireTime(ec)
		return store.DispositionNoop, nextFireTime, scheduleParams, jobData, persist
	}

	switch {
	case appErr.UnscheduleAllTriggers:
		return store.DispositionSetAllJobTriggersError, nil, nil, jobData, persist
	case appErr.UnscheduleFiringTrigger:
		return store.DispositionSetError, nil, nil, jobData, persist
	case appErr.RefireImmediately:
		now := p.clock.Now()
		return store.DispositionNoop, &now, nil, jobData, persist
	default:
		nextFireTime, scheduleParams = p.computeNextFireTime(ec)
		return store.DispositionNoop, nextFireTime, scheduleParams, jobData, persist
	}
}

// computeNextFireTime consults ec.Trigger's registered trigger type for its
// next occurrence after this fire. A nil Types registry or an unregistered
// trigger type both fall back to completing the trigger (nil nextFireTime),
// since the pool has no other way to know the schedule is unexhausted.
func (p *Pool) computeNextFireTime(ec *JobExecutionContext) (*time.Time, []byte) {
	if p.types == nil {
		return nil, nil
	}
	handle, ok := p.types.Lookup(ec.Trigger.Type)
	if !ok {
		return nil, nil
	}
	next, params, err := handle.ComputeNextFireTime(ec.Trigger, ec.FiredAt, nil)
	if err != nil {
		p.logger.ErrorContext(ec.Ctx, "compute next fire time failed", "trigger", ec.Trigger.Key.String(), "error", err)
		return nil, nil
	}
	return next, params
}

func mergedData(job model.JobDefinition, trig model.Trigger) model.JobDataMap {
	out := job.JobDataMap.Clone()
	if out == nil {
		out = model.JobDataMap{}
	}
	for k, v := range trig.JobDataMap {
		out[k] = v
	}
	return out
}

func (p *Pool) emit(jobType string, err error, start time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(p.metrics, metrics.JobMetric{
		JobType:    jobType,
		Transition: "executed",
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}

// Interrupt requests cooperative cancellation of the fire identified by
// fireInstanceID. Cooperation is the executor's responsibility.
func (p *Pool) Interrupt(fireInstanceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	flag, ok := p.interrupts[fireInstanceID]
	if !ok {
		return false
	}
	flag.Store(true)
	return true
}

// InterruptTrigger requests cooperative cancellation of whatever fire is
// currently executing for triggerKey, if any.
func (p *Pool) InterruptTrigger(key model.TriggerKey) bool {
	p.mu.Lock()
	fireID, ok := p.byTrigger[key]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.Interrupt(fireID)
}

// Wait blocks until every in-flight job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
