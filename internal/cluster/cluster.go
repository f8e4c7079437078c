// Package cluster implements the cluster manager: a ticker-driven
// background loop that checks this instance in, detects failed peers, and
// recovers their in-flight work, following the ticker+jitter
// background-loop shape (internal/service/reaper.go's
// ReaperService.Run/waitWithJitter).
package cluster

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"time"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	obserrors "github.com/target/chronos/internal/observability/errors"
	"github.com/target/chronos/internal/observability/statsd"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store"
)

// Config tunes the cluster manager's check-in cadence and peer tolerance.
type Config struct {
	// InstanceID identifies this process among its cluster peers.
	InstanceID string
	// CheckInInterval is how often this instance refreshes its liveness row
	// and how often it re-evaluates peers for failure.
	CheckInInterval time.Duration
	// ToleranceSkew is added on top of a peer's own CheckInInterval before
	// it is declared failed. Defaults to zero, meaning one full
	// CheckInInterval of slack.
	ToleranceSkew time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInInterval <= 0 {
		c.CheckInInterval = 15 * time.Second
	}
	if c.ToleranceSkew <= 0 {
		c.ToleranceSkew = c.CheckInInterval
	}
	return c
}

// Manager owns the check-in / failed-peer-recovery loop.
type Manager struct {
	store    store.JobStore
	clock    clock.Clock
	signaler signal.Signaler
	cfg      Config
	logger   *slog.Logger
	metrics  statsd.Sink
}

// Options configures a new Manager.
type Options struct {
	Store    store.JobStore
	Clock    clock.Clock
	Signaler signal.Signaler
	Config   Config
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// New constructs a Manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		store:    opts.Store,
		clock:    clk,
		signaler: opts.Signaler,
		cfg:      opts.Config.withDefaults(),
		logger:   logger.With("component", "cluster_manager", "instance_id", opts.Config.InstanceID),
		metrics:  opts.Metrics,
	}
}

// Run checks this instance in and recovers failed peers on every tick until
// ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "starting cluster manager", "check_in_interval", m.cfg.CheckInInterval)

	if err := waitWithJitter(ctx, m.cfg.CheckInInterval); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.CheckInInterval)
	defer ticker.Stop()

	if err := m.tick(ctx); err != nil {
		m.logger.ErrorContext(ctx, "cluster tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.ErrorContext(ctx, "cluster tick failed", "error", err)
			}
		}
	}
}

func (m *Manager) tick(ctx context.Context) error {
	start := m.clock.Now()

	if err := m.store.CheckIn(ctx, m.cfg.InstanceID, m.cfg.CheckInInterval, start); err != nil {
		m.emitCount("cluster.check_in", metricsResultError(err), start)
		return apperr.Wrap(err, apperr.CodeJobPersistence, "check in")
	}
	m.emitCount("cluster.check_in", "success", start)

	failed, err := m.store.FindFailedInstances(ctx, start, m.cfg.ToleranceSkew)
	if err != nil {
		m.emitCount("cluster.failed_peers", metricsResultError(err), start)
		return apperr.Wrap(err, apperr.CodeJobPersistence, "find failed instances")
	}
	m.emitGauge("cluster.failed_peers", float64(len(failed)))

	for _, peer := range failed {
		if peer.InstanceID == m.cfg.InstanceID {
			continue
		}
		m.recover(ctx, peer.InstanceID)
	}
	return nil
}

func (m *Manager) recover(ctx context.Context, instanceID string) {
	recovered, err := m.store.RecoverJobs(ctx, instanceID)
	if err != nil {
		m.logger.ErrorContext(ctx, "recover jobs failed", "instance_id", instanceID, "error", err)
		m.emitCount("cluster.recovered_triggers", metricsResultError(err), m.clock.Now())
		return
	}

	if err := m.store.RemoveInstance(ctx, instanceID); err != nil {
		m.logger.ErrorContext(ctx, "remove failed instance failed", "instance_id", instanceID, "error", err)
	}

	m.logger.InfoContext(ctx, "recovered failed peer", "instance_id", instanceID, "recovered_triggers", recovered)
	m.emitGauge("cluster.recovered_triggers", float64(recovered))
	if recovered > 0 {
		m.signaler.SignalSchedulingChange(ctx)
	}
}

func metricsResultError(err error) string {
	if class := obserrors.Classify(err); class != "" {
		return "error:" + class
	}
	return "error"
}

func (m *Manager) emitCount(name string, result string, start time.Time) {
	if m.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	m.metrics.Count(name, 1, tags)
	m.metrics.Timing(name+".duration", time.Since(start), tags)
}

func (m *Manager) emitGauge(name string, value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge(name, value, nil)
}

// waitWithJitter sleeps for d plus up to 10% jitter, seeded via crypto/rand,
// matching the ReaperService.waitWithJitter.
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
