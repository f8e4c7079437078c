// Package facade implements the public Scheduler façade: the set of state
// transitions an embedding application induces on the core. No HTTP/CLI
// surface is built here — only the Go API surface the scheduler loop,
// runner pool, misfire handler, and cluster manager all sit behind.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/cluster"
	"github.com/target/chronos/internal/engine"
	"github.com/target/chronos/internal/misfire"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/observability/statsd"
	"github.com/target/chronos/internal/runner"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/triggertype"
)

// LifecycleState is the façade's own small state machine, in the same
// spirit as internal/trigger's: StandBy -> Running -> Shutdown, with
// Running <-> StandBy also legal.
type LifecycleState string

const (
	StateStandBy  LifecycleState = "stand_by"
	StateRunning  LifecycleState = "running"
	StateShutdown LifecycleState = "shutdown"
)

// signalerSubscriber is what the scheduler loop needs from a Signaler.
type signalerSubscriber interface {
	signal.Signaler
	signal.Subscriber
}

// Config wires a Scheduler's dependencies and tuning knobs.
type Config struct {
	InstanceID string
	Store      store.JobStore
	Clock      clock.Clock
	Signaler   signalerSubscriber
	Types      *triggertype.Registry
	Executors  *runner.Registry

	RunnerSlots   int
	EngineConfig  engine.Config
	MisfireConfig misfire.Config
	ClusterConfig cluster.Config
	Logger        *slog.Logger
	Metrics       statsd.Sink
}

// Scheduler is the façade application code talks to.
type Scheduler struct {
	instanceID string
	store      store.JobStore
	clock      clock.Clock
	signaler   signalerSubscriber
	types      *triggertype.Registry

	pool   *runner.Pool
	loop   *engine.Loop
	misfre *misfire.Handler
	clstr  *cluster.Manager

	logger *slog.Logger

	mu     sync.Mutex
	state  LifecycleState
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler in StateStandBy. Call Start to begin
// acquiring and firing work.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	pool := runner.New(runner.Options{
		Store:     cfg.Store,
		Clock:     clk,
		Signaler:  cfg.Signaler,
		Executors: cfg.Executors,
		Types:     cfg.Types,
		Slots:     cfg.RunnerSlots,
		Logger:    logger,
		Metrics:   cfg.Metrics,
	})

	loop := engine.New(engine.Options{
		Store:      cfg.Store,
		Clock:      clk,
		Signaler:   cfg.Signaler,
		Pool:       pool,
		InstanceID: instanceID,
		Config:     cfg.EngineConfig,
		Logger:     logger,
		Metrics:    cfg.Metrics,
	})

	misfre := misfire.New(misfire.Options{
		Store:    cfg.Store,
		Clock:    clk,
		Signaler: cfg.Signaler,
		Types:    cfg.Types,
		Config:   cfg.MisfireConfig,
		Logger:   logger,
		Metrics:  cfg.Metrics,
	})

	clusterCfg := cfg.ClusterConfig
	clusterCfg.InstanceID = instanceID
	clstr := cluster.New(cluster.Options{
		Store:    cfg.Store,
		Clock:    clk,
		Signaler: cfg.Signaler,
		Config:   clusterCfg,
		Logger:   logger,
		Metrics:  cfg.Metrics,
	})

	return &Scheduler{
		instanceID: instanceID,
		store:      cfg.Store,
		clock:      clk,
		signaler:   cfg.Signaler,
		types:      cfg.Types,
		pool:       pool,
		loop:       loop,
		misfre:     misfre,
		clstr:      clstr,
		logger:     logger.With("component", "scheduler_facade", "instance_id", instanceID),
		state:      StateStandBy,
	}
}

// InstanceID returns this scheduler's cluster identity.
func (s *Scheduler) InstanceID() string { return s.instanceID }

// State returns the façade's current lifecycle state.
func (s *Scheduler) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start transitions stand-by -> running, enabling the Scheduler Loop,
// Misfire Handler, and Cluster Manager. Calling Start while already
// running is a no-op; calling it after Shutdown is a SchedulerOperation
// error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil
	case StateShutdown:
		return apperr.New(apperr.CodeSchedulerOperation, "cannot start a shut-down scheduler")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.runBackgroundLoops(runCtx)

	s.state = StateRunning
	s.logger.InfoContext(ctx, "scheduler started")
	return nil
}

// runBackgroundLoops runs the scheduler loop, misfire handler, and cluster
// manager concurrently, grounded on
// internal/adapters/rulesrunner.Runner.Run's worker-group shape
// (errgroup.WithContext fanning N loops out under one cancellation scope).
func (s *Scheduler) runBackgroundLoops(ctx context.Context) {
	defer close(s.done)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.loop.Run(gctx) })
	group.Go(func() error { return s.misfre.Run(gctx) })
	group.Go(func() error { return s.clstr.Run(gctx) })

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "scheduler background loop exited with error", "error", err)
	}
}

// StandBy pauses acquisition; in-flight jobs continue to completion.
func (s *Scheduler) StandBy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return apperr.New(apperr.CodeSchedulerOperation, "cannot stand by a shut-down scheduler")
	}
	if s.state != StateRunning {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.state = StateStandBy
	s.logger.InfoContext(ctx, "scheduler stood by")
	return nil
}

// Shutdown is terminal: it stops the Scheduler Loop from acquiring new
// work, cancels the misfire and cluster timers, and either waits for all
// runner slots to drain (waitForJobsToComplete) or lets their contexts be
// canceled immediately.
func (s *Scheduler) Shutdown(ctx context.Context, waitForJobsToComplete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if waitForJobsToComplete {
		s.pool.Wait()
	}
	s.state = StateShutdown
	s.logger.InfoContext(ctx, "scheduler shut down", "wait_for_jobs", waitForJobsToComplete)
	return nil
}

func (s *Scheduler) requireNotShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateShutdown {
		return apperr.New(apperr.CodeSchedulerOperation, "scheduler is shut down")
	}
	return nil
}

// ScheduleJob stores job and trig (upsert if replace is true). trig enters
// WAITING unless its group is currently paused, in which case it enters
// PAUSED.
func (s *Scheduler) ScheduleJob(ctx context.Context, job model.JobDefinition, trig model.Trigger, replace bool) error {
	if err := s.requireNotShutdown(); err != nil {
		return err
	}
	paused, err := s.store.IsTriggerGroupPaused(ctx, trig.Key.Group)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeJobPersistence, "check trigger group paused")
	}
	if err := s.computeFirstFireTime(&trig); err != nil {
		return err
	}
	if paused {
		// memstore/pgstore both persist whatever state is implied by the
		// trigger row; a paused-group membership is applied by the store's
		// own PauseTriggerGroup bookkeeping on subsequent additions, but a
		// brand-new trigger must start paused immediately too.
		if err := s.store.StoreJobAndTrigger(ctx, job, trig, replace); err != nil {
			return err
		}
		return s.store.PauseTrigger(ctx, trig.Key)
	}
	if err := s.store.StoreJobAndTrigger(ctx, job, trig, replace); err != nil {
		return err
	}
	s.signaler.SignalSchedulingChange(ctx)
	return nil
}

func (s *Scheduler) computeFirstFireTime(trig *model.Trigger) error {
	if trig.NextFireTime != nil {
		return nil
	}
	if s.types == nil {
		return apperr.New(apperr.CodeSchedulerOperation, "no trigger type registry configured")
	}
	handle, ok := s.types.Lookup(trig.Type)
	if !ok {
		return apperr.Newf(apperr.CodeValidation, "unknown trigger type %q", trig.Type)
	}
	fire, params, err := handle.ComputeFirstFireTime(*trig, nil)
	if err != nil {
		return err
	}
	trig.NextFireTime = &fire
	trig.ScheduleParams = params
	return nil
}

// UnscheduleJob moves trig to DELETED; if its job is not durable and has no
// other triggers, the job is deleted too.
func (s *Scheduler) UnscheduleJob(ctx context.Context, key model.TriggerKey) error {
	if err := s.requireNotShutdown(); err != nil {
		return err
	}
	if err := s.store.RemoveTrigger(ctx, key); err != nil {
		return err
	}
	s.signaler.NotifyJobDeleted(ctx, key.Name)
	return nil
}

// RescheduleJob deletes the existing trigger at key and inserts newTrig in
// WAITING, returning its first fire time.
func (s *Scheduler) RescheduleJob(ctx context.Context, key model.TriggerKey, newTrig model.Trigger) (*time.Time, error) {
	if err := s.requireNotShutdown(); err != nil {
		return nil, err
	}
	old, err := s.store.GetTrigger(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.computeFirstFireTime(&newTrig); err != nil {
		return nil, err
	}
	// Fetch the job before removing the trigger: RemoveTrigger cascades to
	// delete a non-durable job's last remaining trigger, which would make
	// this GetJob call fail.
	job, err := s.store.GetJob(ctx, old.JobKey)
	if err != nil {
		return nil, err
	}
	if err := s.store.RemoveTrigger(ctx, key); err != nil {
		return nil, err
	}
	if err := s.store.StoreJobAndTrigger(ctx, job, newTrig, false); err != nil {
		return nil, err
	}
	s.signaler.SignalSchedulingChange(ctx)
	return newTrig.NextFireTime, nil
}

// PauseJob / ResumeJob, PauseTrigger / ResumeTrigger, PauseTriggerGroup /
// ResumeTriggerGroup apply the trigger state machine's pause/resume
// transitions.
func (s *Scheduler) PauseJob(ctx context.Context, key model.JobKey) error {
	return s.store.PauseJob(ctx, key)
}

func (s *Scheduler) ResumeJob(ctx context.Context, key model.JobKey) error {
	return s.store.ResumeJob(ctx, key)
}

func (s *Scheduler) PauseTrigger(ctx context.Context, key model.TriggerKey) error {
	return s.store.PauseTrigger(ctx, key)
}

func (s *Scheduler) ResumeTrigger(ctx context.Context, key model.TriggerKey) error {
	if err := s.store.ResumeTrigger(ctx, key); err != nil {
		return err
	}
	s.signaler.SignalSchedulingChange(ctx)
	return nil
}

func (s *Scheduler) PauseTriggerGroup(ctx context.Context, group string) error {
	return s.store.PauseTriggerGroup(ctx, group)
}

func (s *Scheduler) ResumeTriggerGroup(ctx context.Context, group string) error {
	if err := s.store.ResumeTriggerGroup(ctx, group); err != nil {
		return err
	}
	s.signaler.SignalSchedulingChange(ctx)
	return nil
}

// TriggerJob inserts a synthetic one-shot trigger in group
// "MANUAL_TRIGGERS" firing now with the supplied data map.
func (s *Scheduler) TriggerJob(ctx context.Context, jobKey model.JobKey, data model.JobDataMap) error {
	if err := s.requireNotShutdown(); err != nil {
		return err
	}
	job, err := s.store.GetJob(ctx, jobKey)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	trig := model.Trigger{
		Key:          model.TriggerKey{Name: fmt.Sprintf("manual_%s", uuid.NewString()), Group: "MANUAL_TRIGGERS"},
		JobKey:       jobKey,
		StartTime:    now,
		NextFireTime: &now,
		Type:         "simple",
		JobDataMap:   data,
	}
	if err := s.store.StoreJobAndTrigger(ctx, job, trig, false); err != nil {
		return err
	}
	s.signaler.SignalSchedulingChange(ctx)
	return nil
}

// Interrupt flips the cancellation flag on the execution context matching
// fireInstanceID, if any is currently executing.
func (s *Scheduler) Interrupt(fireInstanceID string) bool {
	return s.pool.Interrupt(fireInstanceID)
}

// InterruptTrigger flips the cancellation flag on whatever fire is
// currently executing for triggerKey, if any.
func (s *Scheduler) InterruptTrigger(key model.TriggerKey) bool {
	return s.pool.InterruptTrigger(key)
}

// Clear deletes all jobs, triggers, calendars, and paused-group records,
// but not scheduler-state records.
func (s *Scheduler) Clear(ctx context.Context) error {
	if err := s.requireNotShutdown(); err != nil {
		return err
	}
	return s.store.ClearAllSchedulingData(ctx)
}
