// Package misfire sweeps WAITING triggers whose NextFireTime has passed the
// configured threshold and applies each trigger type's resolved misfire
// policy, following the ticker+jitter background-loop shape
// (internal/service/reaper.go's ReaperService.Run).
package misfire

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
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

// Config tunes the misfire sweep loop.
type Config struct {
	// Threshold is how far past its NextFireTime a trigger may drift before
	// it is considered misfired.
	Threshold time.Duration
	// PollInterval is the sleep between sweeps when a sweep did not fill a
	// whole batch. It defaults to Threshold and is capped at 60s regardless
	// of this value.
	PollInterval time.Duration
	// BatchSize bounds how many misfired triggers one sweep processes.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = c.Threshold
	}
	if c.PollInterval > time.Minute {
		c.PollInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// Handler owns the misfire sweep loop.
type Handler struct {
	store    store.JobStore
	clock    clock.Clock
	signaler signal.Signaler
	types    *triggertype.Registry
	cfg      Config
	logger   *slog.Logger
	metrics  statsd.Sink
}

// Options configures a new Handler.
type Options struct {
	Store    store.JobStore
	Clock    clock.Clock
	Signaler signal.Signaler
	Types    *triggertype.Registry
	Config   Config
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// New constructs a Handler.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handler{
		store:    opts.Store,
		clock:    clk,
		signaler: opts.Signaler,
		types:    opts.Types,
		cfg:      opts.Config.withDefaults(),
		logger:   logger.With("component", "misfire_handler"),
		metrics:  opts.Metrics,
	}
}

// Run sweeps misfired triggers until ctx is canceled.
func (h *Handler) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "starting misfire handler", "threshold", h.cfg.Threshold)

	if err := waitWithJitter(ctx, h.cfg.PollInterval); err != nil {
		return err
	}

	for {
		full, err := h.SweepOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.ErrorContext(ctx, "misfire sweep failed", "error", err)
		}

		wait := h.cfg.PollInterval
		if full {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// SweepOnce processes one batch of misfired triggers and reports whether the
// batch was full (meaning more misfired triggers may remain). Exported so
// callers needing an immediate out-of-cycle sweep (and tests) can invoke it
// directly instead of waiting for Run's poll interval.
func (h *Handler) SweepOnce(ctx context.Context) (full bool, err error) {
	start := h.clock.Now()
	threshold := start.Add(-h.cfg.Threshold)

	triggers, err := h.store.GetMisfiredTriggers(ctx, threshold, h.cfg.BatchSize)
	if err != nil {
		h.emit("sweep", metrics.ResultError, start)
		return false, apperr.Wrap(err, apperr.CodeJobPersistence, "get misfired triggers")
	}

	for _, t := range triggers {
		if resolveErr := h.resolveMisfire(ctx, t, start); resolveErr != nil {
			h.logger.ErrorContext(ctx, "resolve misfire failed", "trigger", t.Key.String(), "error", resolveErr)
		}
	}

	h.emit("sweep", metrics.ResultSuccess, start)
	if len(triggers) > 0 {
		h.logger.InfoContext(ctx, "swept misfired triggers", "count", len(triggers))
	}
	return len(triggers) >= h.cfg.BatchSize, nil
}

func (h *Handler) resolveMisfire(ctx context.Context, t model.Trigger, now time.Time) error {
	handle, ok := h.types.Lookup(t.Type)
	if !ok {
		return apperr.Newf(apperr.CodeSchedulerOperation, "unknown trigger type %q", t.Type)
	}

	nextFireTime, params, err := handle.UpdateAfterMisfire(t, now)
	if err != nil {
		return err
	}

	if err := h.store.UpdateTriggerSchedule(ctx, t.Key, nextFireTime, params); err != nil {
		return apperr.Wrap(err, apperr.CodeJobPersistence, "update trigger after misfire")
	}

	h.signaler.NotifyMisfired(ctx, t.Key.Name)
	h.signaler.SignalSchedulingChange(ctx)
	return nil
}

func (h *Handler) emit(op string, result string, start time.Time) {
	if h.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	h.metrics.Count("misfire."+op, 1, tags)
	h.metrics.Timing("misfire."+op+".duration", time.Since(start), tags)
}

// waitWithJitter sleeps for d plus up to 10% jitter, seeded via crypto/rand
// to avoid every cluster peer waking in lockstep, matching
// ReaperService.waitWithJitter's shape.
func waitWithJitter(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	jitterMax := d / 10
	jitter := time.Duration(0)
	if jitterMax > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(jitterMax)))
		if err == nil {
			jitter = time.Duration(n.Int64())
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d + jitter):
		return nil
	}
}
