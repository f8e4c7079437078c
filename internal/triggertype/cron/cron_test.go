package cron_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/triggertype/cron"
)

func paramsJSON(t *testing.T, p cron.Params) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestComputeFirstFireTime_EveryMinute(t *testing.T) {
	h := cron.Handle{}
	start := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	trig := model.Trigger{
		StartTime:      start,
		ScheduleParams: paramsJSON(t, cron.Params{Expression: "* * * * *"}),
	}

	first, _, err := h.ComputeFirstFireTime(trig, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), first)
}

func TestComputeNextFireTime_PastEndTimeReturnsNil(t *testing.T) {
	h := cron.Handle{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	trig := model.Trigger{
		StartTime:      start,
		EndTime:        &end,
		ScheduleParams: paramsJSON(t, cron.Params{Expression: "* * * * *"}),
	}

	next, _, err := h.ComputeNextFireTime(trig, start.Add(time.Minute), nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestUpdateAfterMisfire_SmartPolicyFiresOnceNow(t *testing.T) {
	h := cron.Handle{}
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	trig := model.Trigger{
		MisfireInstruction: model.MisfireSmartPolicy,
		ScheduleParams:      paramsJSON(t, cron.Params{Expression: "* * * * *"}),
	}

	next, _, err := h.UpdateAfterMisfire(trig, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now))
}

func TestDecode_UnknownTimeZoneRejected(t *testing.T) {
	h := cron.Handle{}
	trig := model.Trigger{
		StartTime:      time.Now().UTC(),
		ScheduleParams: paramsJSON(t, cron.Params{Expression: "* * * * *", TimeZone: "Not/AZone"}),
	}

	_, _, err := h.ComputeFirstFireTime(trig, nil)
	assert.Error(t, err)
}

func TestMayFireAgain_AlwaysTrue(t *testing.T) {
	h := cron.Handle{}
	assert.True(t, h.MayFireAgain(model.Trigger{}))
}
