package facade_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/engine"
	"github.com/target/chronos/internal/facade"
	"github.com/target/chronos/internal/misfire"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/runner"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store/memstore"
	"github.com/target/chronos/internal/triggertype"
	"github.com/target/chronos/internal/triggertype/simple"
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

func newScheduler(t *testing.T, clk clock.Clock) (*facade.Scheduler, chan struct{}) {
	t.Helper()

	st := memstore.New(clk)
	sig := signal.NewLocal(nil)

	types := triggertype.NewRegistry()
	types.Register(simple.Handle{})

	ran := make(chan struct{}, 4)
	executors := runner.NewRegistry()
	executors.Register("noop", &countingExecutor{ran: ran})

	sched := facade.New(facade.Config{
		InstanceID:  "self",
		Store:       st,
		Clock:       clk,
		Signaler:    sig,
		Types:       types,
		Executors:   executors,
		RunnerSlots: 2,
		EngineConfig: engine.Config{
			IdleWaitMax:  50 * time.Millisecond,
			MaxBatchSize: 5,
		},
		MisfireConfig: misfire.Config{
			Threshold:    5 * time.Second,
			PollInterval: 50 * time.Millisecond,
			BatchSize:    10,
		},
	})
	return sched, ran
}

func TestScheduler_LifecycleTransitions(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sched, _ := newScheduler(t, clk)
	ctx := context.Background()

	require.Equal(t, facade.StateStandBy, sched.State())

	require.NoError(t, sched.Start(ctx))
	require.Equal(t, facade.StateRunning, sched.State())

	require.NoError(t, sched.StandBy(ctx))
	require.Equal(t, facade.StateStandBy, sched.State())

	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Shutdown(ctx, true))
	require.Equal(t, facade.StateShutdown, sched.State())

	err := sched.Start(ctx)
	require.Error(t, err)
	require.Equal(t, apperr.CodeSchedulerOperation, apperr.GetCode(err))
}

func TestScheduler_ScheduleJob_FiresDueTrigger(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	sched, ran := newScheduler(t, clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	fire := now.Add(-time.Second)
	trig := model.Trigger{
		Key:          model.TriggerKey{Name: "trig1", Group: model.DefaultGroup},
		JobKey:       job.Key,
		StartTime:    now,
		NextFireTime: &fire,
		Type:         "simple",
	}

	require.NoError(t, sched.ScheduleJob(ctx, job, trig, false))
	require.NoError(t, sched.Start(ctx))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the due trigger to fire")
	}

	require.NoError(t, sched.Shutdown(ctx, true))
}

func TestScheduler_UnscheduleJob_RemovesTrigger(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	sched, _ := newScheduler(t, clk)
	ctx := context.Background()

	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	interval := time.Minute
	params, err := simpleParams(interval)
	require.NoError(t, err)
	trig := model.Trigger{
		Key:            model.TriggerKey{Name: "trig1", Group: model.DefaultGroup},
		JobKey:         job.Key,
		StartTime:      now,
		Type:           "simple",
		ScheduleParams: params,
	}

	require.NoError(t, sched.ScheduleJob(ctx, job, trig, false))
	require.NoError(t, sched.UnscheduleJob(ctx, trig.Key))
}

func TestScheduler_PauseAndResumeJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	sched, _ := newScheduler(t, clk)
	ctx := context.Background()

	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	interval := time.Minute
	params, err := simpleParams(interval)
	require.NoError(t, err)
	trig := model.Trigger{
		Key:            model.TriggerKey{Name: "trig1", Group: model.DefaultGroup},
		JobKey:         job.Key,
		StartTime:      now,
		Type:           "simple",
		ScheduleParams: params,
	}
	require.NoError(t, sched.ScheduleJob(ctx, job, trig, false))

	require.NoError(t, sched.PauseJob(ctx, job.Key))
	require.NoError(t, sched.ResumeJob(ctx, job.Key))
}

func simpleParams(interval time.Duration) ([]byte, error) {
	return json.Marshal(simple.Params{RepeatInterval: interval, RepeatCount: simple.RepeatForever})
}
