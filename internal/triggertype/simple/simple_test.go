package simple_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/triggertype/simple"
)

func paramsJSON(t *testing.T, p simple.Params) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestComputeNextFireTime_AdvancesByInterval(t *testing.T) {
	h := simple.Handle{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trig := model.Trigger{
		StartTime:      start,
		ScheduleParams: paramsJSON(t, simple.Params{RepeatInterval: time.Minute, RepeatCount: simple.RepeatForever}),
	}

	next, params, err := h.ComputeNextFireTime(trig, start, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, start.Add(time.Minute), *next)

	var p simple.Params
	require.NoError(t, json.Unmarshal(params, &p))
	assert.Equal(t, 1, p.TimesTriggered)
}

func TestComputeNextFireTime_ExhaustedRepeatCountReturnsNil(t *testing.T) {
	h := simple.Handle{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trig := model.Trigger{
		StartTime: start,
		ScheduleParams: paramsJSON(t, simple.Params{
			RepeatInterval: time.Minute,
			RepeatCount:    2,
			TimesTriggered: 2,
		}),
	}

	next, _, err := h.ComputeNextFireTime(trig, start, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestUpdateAfterMisfire_SmartPolicyOneShotFiresNow(t *testing.T) {
	h := simple.Handle{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(65 * time.Second)
	trig := model.Trigger{
		StartTime:          start,
		MisfireInstruction: model.MisfireSmartPolicy,
		ScheduleParams:      paramsJSON(t, simple.Params{RepeatCount: 0}),
	}

	next, _, err := h.UpdateAfterMisfire(trig, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now), "SMART_POLICY on a one-shot must resolve to FIRE_NOW")
}

func TestUpdateAfterMisfire_IgnoreKeepsNextFireTime(t *testing.T) {
	h := simple.Handle{}
	original := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trig := model.Trigger{
		MisfireInstruction: model.MisfireIgnore,
		NextFireTime:       &original,
		ScheduleParams:     paramsJSON(t, simple.Params{RepeatInterval: time.Minute}),
	}

	next, _, err := h.UpdateAfterMisfire(trig, original.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, original, *next)
}

func TestMayFireAgain(t *testing.T) {
	h := simple.Handle{}
	assert.True(t, h.MayFireAgain(model.Trigger{
		ScheduleParams: paramsJSON(t, simple.Params{RepeatCount: simple.RepeatForever}),
	}))
	assert.False(t, h.MayFireAgain(model.Trigger{
		ScheduleParams: paramsJSON(t, simple.Params{RepeatCount: 1, TimesTriggered: 1}),
	}))
}
