package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/engine"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/runner"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store/memstore"
)

type countingExecutor struct {
	ran chan struct{}
}

func (c *countingExecutor) Execute(ec *runner.JobExecutionContext) error {
	select {
	case c.ran <- struct{}{}:
	default:
	}
	return nil
}

func TestLoop_Run_FiresDueTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	st := memstore.New(clk)

	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	fire := now.Add(-time.Second) // already due
	trig := model.Trigger{
		Key:          model.TriggerKey{Name: "trig1", Group: model.DefaultGroup},
		JobKey:       job.Key,
		StartTime:    now,
		NextFireTime: &fire,
		Type:         "simple",
	}
	require.NoError(t, st.StoreJobAndTrigger(ctx, job, trig, false))

	sig := signal.NewLocal(nil)
	ran := make(chan struct{}, 1)
	executors := runner.NewRegistry()
	executors.Register("noop", &countingExecutor{ran: ran})

	pool := runner.New(runner.Options{
		Store:     st,
		Clock:     clk,
		Signaler:  sig,
		Executors: executors,
		Slots:     2,
	})

	loop := engine.New(engine.Options{
		Store:      st,
		Clock:      clk,
		Signaler:   sig,
		Pool:       pool,
		InstanceID: "self",
		Config:     engine.Config{IdleWaitMax: 50 * time.Millisecond, MaxBatchSize: 5},
	})

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the due trigger to fire")
	}

	cancel()
	<-done
}
