// Package engine implements the Scheduler Loop: the single long-lived
// acquire/wait/fire cycle per instance. Unlike the Misfire Handler and
// Cluster Manager, this is not a fixed-interval ticker — it is wired the way
// adapters/scheduler.Runner wires a service (an Options dependency struct,
// optional slog.Logger/statsd.Sink fields defaulted on construction), but the
// loop body itself follows an acquire/wait/fire cycle, not the tick shape.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/observability/metrics"
	"github.com/target/chronos/internal/observability/statsd"
	"github.com/target/chronos/internal/runner"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store"
)

// Config tunes the scheduler loop's horizon and batch sizing.
type Config struct {
	// IdleWaitMax bounds how long the loop sleeps when nothing is due.
	IdleWaitMax time.Duration
	// AcquireTimeWindow additionally admits triggers firing within this
	// much further time into one acquisition batch.
	AcquireTimeWindow time.Duration
	// MaxBatchSize bounds how many triggers one cycle acquires, on top of
	// whatever slots are actually free.
	MaxBatchSize int
}

func (c Config) withDefaults() Config {
	if c.IdleWaitMax <= 0 {
		c.IdleWaitMax = 30 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1
	}
	return c
}

// signalerSubscriber is what the loop needs from a Signaler: the ability to
// post scheduling-change events and to receive its own wake-up channel.
type signalerSubscriber interface {
	signal.Signaler
	signal.Subscriber
}

// Loop owns the scheduler's acquire/wait/fire cycle.
type Loop struct {
	store    store.JobStore
	clock    clock.Clock
	signaler signalerSubscriber
	pool     *runner.Pool
	cfg      Config
	logger   *slog.Logger
	metrics  statsd.Sink

	instanceID string
}

// Options configures a new Loop.
type Options struct {
	Store      store.JobStore
	Clock      clock.Clock
	Signaler   signalerSubscriber
	Pool       *runner.Pool
	InstanceID string
	Config     Config
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// New constructs a Loop.
func New(opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Loop{
		store:      opts.Store,
		clock:      clk,
		signaler:   opts.Signaler,
		pool:       opts.Pool,
		cfg:        opts.Config.withDefaults(),
		logger:     logger.With("component", "scheduler_loop", "instance_id", opts.InstanceID),
		metrics:    opts.Metrics,
		instanceID: opts.InstanceID,
	}
}

// Run executes the acquire/wait/fire cycle until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "starting scheduler loop")

	wake, unsubscribe := l.signaler.Subscribe()
	defer unsubscribe()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.cycle(ctx, wake); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.ErrorContext(ctx, "scheduler cycle failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// cycle runs one full acquire/wait/fire pass: wait for a slot, acquire due
// triggers, fire them, and sleep until the next one is due or a signal
// arrives.
func (l *Loop) cycle(ctx context.Context, wake <-chan struct{}) error {
	start := l.clock.Now()

	// Step 1: wait for an available runner slot.
	batch := l.batchSize()
	for batch <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-time.After(100 * time.Millisecond):
		}
		batch = l.batchSize()
	}

	// Step 2-3: choose horizon, acquire.
	noLaterThan := start.Add(l.cfg.IdleWaitMax)
	acquired, err := l.store.AcquireNextTriggers(ctx, l.instanceID, store.AcquireNextTriggersParams{
		NoLaterThan: noLaterThan,
		MaxCount:    batch,
		TimeWindow:  l.cfg.AcquireTimeWindow,
	})
	if err != nil {
		l.emit("acquire", metrics.ResultError, start)
		return apperr.Wrap(err, apperr.CodeJobPersistence, "acquire next triggers")
	}

	if len(acquired) == 0 {
		l.emit("acquire", metrics.ResultNoop, start)
		return l.idleWait(ctx, wake)
	}
	l.emit("acquire", metrics.ResultSuccess, start)

	// Step 4: sleep until the earliest acquired fire time, preemptible by a
	// signal indicating an earlier candidate might now exist.
	earliest := earliestFireTime(acquired)
	if wait := earliest.Sub(l.clock.Now()); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
			l.releaseAll(ctx, acquired)
			return nil
		case <-time.After(wait):
		}
	}

	// Step 5: fire and dispatch.
	results, err := l.store.TriggersFired(ctx, l.instanceID, acquired)
	if err != nil {
		l.releaseAll(ctx, acquired)
		return apperr.Wrap(err, apperr.CodeJobPersistence, "triggers fired")
	}

	for _, res := range results {
		if !l.pool.TryAcquireSlot() {
			// Lost the race for a slot between steps 1 and 5; release
			// this one back to WAITING rather than dropping it silently.
			if relErr := l.store.ReleaseAcquiredTrigger(ctx, res.Trigger.Key); relErr != nil {
				l.logger.ErrorContext(ctx, "release acquired trigger failed", "trigger", res.Trigger.Key.String(), "error", relErr)
			}
			continue
		}
		l.pool.Submit(ctx, res)
	}

	return nil
}

func (l *Loop) batchSize() int {
	avail := l.pool.AvailableSlots()
	if avail > l.cfg.MaxBatchSize {
		return l.cfg.MaxBatchSize
	}
	return avail
}

func (l *Loop) idleWait(ctx context.Context, wake <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-time.After(l.cfg.IdleWaitMax):
		return nil
	}
}

func (l *Loop) releaseAll(ctx context.Context, triggers []model.Trigger) {
	for _, t := range triggers {
		if err := l.store.ReleaseAcquiredTrigger(ctx, t.Key); err != nil {
			l.logger.ErrorContext(ctx, "release acquired trigger failed", "trigger", t.Key.String(), "error", err)
		}
	}
}

func earliestFireTime(triggers []model.Trigger) time.Time {
	var earliest time.Time
	for _, t := range triggers {
		if t.NextFireTime == nil {
			continue
		}
		if earliest.IsZero() || t.NextFireTime.Before(earliest) {
			earliest = *t.NextFireTime
		}
	}
	return earliest
}

func (l *Loop) emit(op string, result string, start time.Time) {
	if l.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	l.metrics.Count("engine."+op, 1, tags)
	l.metrics.Timing("engine."+op+".duration", time.Since(start), tags)
}
