package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/target/chronos/internal/signal"
)

var (
	_ signal.Signaler   = (*PGSignaler)(nil)
	_ signal.Subscriber = (*PGSignaler)(nil)
)

// notifyChannel is the single Postgres NOTIFY channel used to fan
// scheduling-change wakeups out to every clustered instance. One channel is
// enough: the payload carries no information a listener needs, since every
// instance re-queries the store itself on wakeup (the same contract Local
// offers in-process).
const notifyChannel = "chronos_scheduling_change"

// PGSignaler is the clustered Signaler: it bridges Postgres LISTEN/NOTIFY so
// that a trigger stored or rescheduled on one instance wakes every other
// instance's idle-waiting Scheduler Loop, not just its own, directly
// grounded on the raw *pgx.Conn access pattern in withPgxConn
// (generalizing its stdlib-bridge plumbing to pgx's own notification API;
// nothing elsewhere in this codebase uses LISTEN/NOTIFY directly).
type PGSignaler struct {
	db     *sql.DB
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
}

// NewPGSignaler constructs a PGSignaler. Call Run in a background goroutine
// before relying on Subscribe's channels to ever fire.
func NewPGSignaler(db *sql.DB, logger *slog.Logger) *PGSignaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGSignaler{
		db:        db,
		logger:    logger,
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Subscribe registers a new listener channel for scheduling-change wakeups.
func (p *PGSignaler) Subscribe() (<-chan struct{}, func()) {
	c := make(chan struct{}, 1)
	p.mu.Lock()
	p.listeners[c] = struct{}{}
	p.mu.Unlock()
	return c, func() {
		p.mu.Lock()
		delete(p.listeners, c)
		p.mu.Unlock()
	}
}

func (p *PGSignaler) broadcast() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.listeners {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// Run holds one dedicated connection LISTENing on notifyChannel until ctx is
// canceled, fanning every notification out to Subscribe's channels. A
// dropped connection is reconnected rather than treated as fatal, since a
// single lost connection must not silently stop cluster-wide wakeups.
func (p *PGSignaler) Run(ctx context.Context) error {
	for {
		err := p.listenLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.logger.Error("pgsignaler: listen connection lost, reconnecting", "error", err)
		}
	}
}

func (p *PGSignaler) listenLoop(ctx context.Context) error {
	return withPgxConn(ctx, p.db, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			return fmt.Errorf("listen %s: %w", notifyChannel, err)
		}
		for {
			_, err := conn.WaitForNotification(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			p.broadcast()
		}
	})
}

// SignalSchedulingChange publishes a NOTIFY on notifyChannel, waking every
// subscribed instance's Scheduler Loop (including this one, via Run's own
// LISTEN connection).
func (p *PGSignaler) SignalSchedulingChange(ctx context.Context) {
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, '')", notifyChannel); err != nil {
		p.logger.Error("pgsignaler: notify failed", "error", err)
	}
}

func (p *PGSignaler) NotifyMisfired(_ context.Context, triggerName string) {
	p.logger.Warn("trigger misfired", "trigger", triggerName)
}

func (p *PGSignaler) NotifyFinalized(_ context.Context, triggerName string) {
	p.logger.Debug("trigger finalized", "trigger", triggerName)
}

func (p *PGSignaler) NotifyJobDeleted(_ context.Context, jobName string) {
	p.logger.Debug("job deleted", "job", jobName)
}

func (p *PGSignaler) NotifyError(_ context.Context, msg string, err error) {
	p.logger.Error(msg, "error", err)
}
