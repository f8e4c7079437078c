package misfire_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/clock"
	"github.com/target/chronos/internal/misfire"
	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/signal"
	"github.com/target/chronos/internal/store/memstore"
	"github.com/target/chronos/internal/triggertype"
	"github.com/target/chronos/internal/triggertype/simple"
)

func TestHandler_SweepOnce_SmartPolicyOneShotFiresNow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 1, 5, 0, time.UTC) // 65s after start
	clk := clock.NewFixed(now)
	st := memstore.New(clk)

	start := now.Add(-65 * time.Second)
	job := model.JobDefinition{Key: model.JobKey{Name: "job1", Group: model.DefaultGroup}, Type: "noop"}
	trig := model.Trigger{
		Key:                model.TriggerKey{Name: "trig1", Group: model.DefaultGroup},
		JobKey:             job.Key,
		StartTime:          start,
		NextFireTime:       &start,
		MisfireInstruction: model.MisfireSmartPolicy,
		Type:               "simple",
	}
	require.NoError(t, st.StoreJobAndTrigger(ctx, job, trig, false))

	types := triggertype.NewRegistry()
	types.Register(simple.Handle{})

	h := misfire.New(misfire.Options{
		Store:    st,
		Clock:    clk,
		Signaler: signal.NewLocal(nil),
		Types:    types,
		Config:   misfire.Config{Threshold: 5 * time.Second, BatchSize: 10},
	})

	full, err := h.SweepOnce(ctx)
	require.NoError(t, err)
	require.False(t, full)

	updated, err := st.GetTrigger(ctx, trig.Key)
	require.NoError(t, err)
	require.NotNil(t, updated.NextFireTime)
	require.True(t, updated.NextFireTime.Equal(now), "SMART_POLICY on a one-shot must resolve to FIRE_NOW")
}
