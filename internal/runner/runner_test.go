package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/mocks"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/runner"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store"
	"github.com/target/chronos/internal/store/memstore"
)

type fakeExecutor struct {
	err error
	ran chan struct{}
}

func (f *fakeExecutor) Execute(ec *runner.JobExecutionContext) error {
	defer close(f.ran)
	return f.err
}

func seedFiredTrigger(t *testing.T, st store.JobStore) store.TriggersFiredResult {
	t.Helper()
	ctx := context.Background()
	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	now := time.Now().UTC()
	trig := model.Trigger{
		Key:          model.TriggerKey{Name: "trig1", Group: model.DefaultGroup},
		JobKey:       job.Key,
		StartTime:    now,
		NextFireTime: &now,
		Type:         "simple",
	}
	require.NoError(t, st.StoreJobAndTrigger(ctx, job, trig, false))

	acquired, err := st.AcquireNextTriggers(ctx, "self", store.AcquireNextTriggersParams{NoLaterThan: now.Add(time.Second), MaxCount: 1})
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	fired, err := st.TriggersFired(ctx, "self", acquired)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	return fired[0]
}

func TestPool_Submit_SuccessCallsTriggeredJobComplete(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	result := seedFiredTrigger(t, st)

	executors := runner.NewRegistry()
	ran := make(chan struct{})
	executors.Register("noop", &fakeExecutor{ran: ran})

	p := runner.New(runner.Options{
		Store:     st,
		Signaler:  signal.NewLocal(nil),
		Executors: executors,
		Slots:     1,
	})

	require.True(t, p.TryAcquireSlot())
	p.Submit(ctx, result)
	p.Wait()

	select {
	case <-ran:
	default:
		t.Fatal("expected executor to have run")
	}

	_, err := st.GetTrigger(ctx, result.Trigger.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, p.AvailableSlots())
}

func TestPool_Submit_RefireImmediately(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	result := seedFiredTrigger(t, st)

	executors := runner.NewRegistry()
	ran := make(chan struct{})
	executors.Register("noop", &fakeExecutor{
		err: apperr.JobExecution(assert.AnError, true, false, false),
		ran: ran,
	})

	p := runner.New(runner.Options{
		Store:     st,
		Signaler:  signal.NewLocal(nil),
		Executors: executors,
		Slots:     1,
	})

	require.True(t, p.TryAcquireSlot())
	p.Submit(ctx, result)
	p.Wait()

	<-ran
}

func TestPool_Submit_PassesMatchingJobExecutionContext(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{})
	result := seedFiredTrigger(t, st)

	ctrl := gomock.NewController(t)
	executor := mocks.NewMockJobExecutor(ctrl)
	ran := make(chan struct{})
	executor.EXPECT().
		Execute(gomock.Any()).
		DoAndReturn(func(ec *runner.JobExecutionContext) error {
			defer close(ran)
			assert.Equal(t, result.Trigger.Key, ec.Trigger.Key)
			assert.Equal(t, result.Job.Key, ec.Job.Key)
			assert.Equal(t, result.FiredTrigger.EntryID, ec.FireInstanceID)
			return nil
		})

	executors := runner.NewRegistry()
	executors.Register("noop", executor)

	p := runner.New(runner.Options{
		Store:     st,
		Signaler:  signal.NewLocal(nil),
		Executors: executors,
		Slots:     1,
	})

	require.True(t, p.TryAcquireSlot())
	p.Submit(ctx, result)
	p.Wait()

	select {
	case <-ran:
	default:
		t.Fatal("expected executor to have run")
	}
}

func TestPool_Interrupt_UnknownFireReturnsFalse(t *testing.T) {
	p := runner.New(runner.Options{
		Store:     memstore.New(clock.Real{}),
		Signaler:  signal.NewLocal(nil),
		Executors: runner.NewRegistry(),
		Slots:     1,
	})
	assert.False(t, p.Interrupt("nonexistent"))
}
