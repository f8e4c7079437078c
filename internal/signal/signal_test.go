package signal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/target/chronos/internal/signal"
)

func TestLocal_SignalSchedulingChange_WakesSubscribers(t *testing.T) {
	l := signal.NewLocal(nil)
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	l.SignalSchedulingChange(context.Background())

	select {
	case <-ch:
	default:
		t.Fatal("expected subscriber to be woken")
	}
}

func TestLocal_SignalSchedulingChange_NeverBlocksOnFullChannel(t *testing.T) {
	l := signal.NewLocal(nil)
	_, unsubscribe := l.Subscribe()
	defer unsubscribe()

	// Two signals in a row must never block even though the channel is
	// buffered to size 1.
	l.SignalSchedulingChange(context.Background())
	l.SignalSchedulingChange(context.Background())
}

func TestLocal_ConcurrentSubscribeAndSignal(t *testing.T) {
	l := signal.NewLocal(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unsubscribe := l.Subscribe()
			l.SignalSchedulingChange(context.Background())
			unsubscribe()
		}()
	}
	wg.Wait()
}

func TestLocal_NotifyError(t *testing.T) {
	var gotMsg string
	var gotErr error
	l := signal.NewLocal(func(msg string, err error) {
		gotMsg, gotErr = msg, err
	})

	sentinel := assert.AnError
	l.NotifyError(context.Background(), "boom", sentinel)

	assert.Equal(t, "boom", gotMsg)
	assert.Equal(t, sentinel, gotErr)
}
