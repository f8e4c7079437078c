// Package signal implements the Signaler: the component the core posts
// scheduling-change and lifecycle events into, decoupling it from whatever
// is actually listening (in-process subscribers, or peer instances sharing
// a relational store).
package signal

import (
	"context"
	"sync"
)

// Signaler is the boundary the scheduler loop, misfire handler, and runner
// pool post events into. No strong ownership back-reference to listeners is
// required; a Signaler only needs to fan an event out to whoever is
// currently subscribed.
type Signaler interface {
	// SignalSchedulingChange wakes any idle-waiting Scheduler Loop, so a
	// newly stored or rescheduled trigger does not wait out the loop's full
	// idle-wait.
	SignalSchedulingChange(ctx context.Context)
	NotifyMisfired(ctx context.Context, triggerName string)
	NotifyFinalized(ctx context.Context, triggerName string)
	NotifyJobDeleted(ctx context.Context, jobName string)
	NotifyError(ctx context.Context, msg string, err error)
}

// Subscriber is implemented by Signalers that can hand the Scheduler Loop
// its own wake-up channel directly, in-process (Local). PGSignaler instead
// bridges pg_notify/LISTEN into the same channel shape internally; either
// way, internal/engine depends only on this interface, never on a concrete
// implementation.
type Subscriber interface {
	// Subscribe registers a new listener channel for scheduling-change
	// wakeups and returns it along with an unsubscribe function.
	Subscribe() (ch <-chan struct{}, unsubscribe func())
}

// Local is an in-process Signaler backed by one buffered channel per subscriber,
// grounded on the job/notifier.go Subscribe/broadcast shape
// (github.com/target/mmk-ui-api/internal/domain/job): many subscribers, one
// broadcaster, non-blocking sends so a slow subscriber never stalls the
// signaling call.
type Local struct {
	mu    sync.Mutex
	chans map[chan struct{}]struct{}
	errs  func(msg string, err error)
}

// NewLocal constructs a Local signaler. onError, if non-nil, is invoked
// synchronously for NotifyError calls (normally wired to a logger).
func NewLocal(onError func(msg string, err error)) *Local {
	return &Local{
		chans: make(map[chan struct{}]struct{}),
		errs:  onError,
	}
}

// Subscribe registers a new listener channel for scheduling-change wakeups
// and returns it along with an unsubscribe function.
func (l *Local) Subscribe() (ch <-chan struct{}, unsubscribe func()) {
	c := make(chan struct{}, 1)
	l.mu.Lock()
	l.chans[c] = struct{}{}
	l.mu.Unlock()
	return c, func() {
		l.mu.Lock()
		delete(l.chans, c)
		l.mu.Unlock()
	}
}

func (l *Local) SignalSchedulingChange(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.chans {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (l *Local) NotifyMisfired(_ context.Context, _ string)  {}
func (l *Local) NotifyFinalized(_ context.Context, _ string) {}
func (l *Local) NotifyJobDeleted(_ context.Context, _ string) {}

func (l *Local) NotifyError(_ context.Context, msg string, err error) {
	if l.errs != nil {
		l.errs(msg, err)
	}
}

var _ Signaler = (*Local)(nil)
