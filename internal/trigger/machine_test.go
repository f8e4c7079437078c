package trigger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/target/chronos/internal/model"
	"github.com/target/chronos/internal/trigger"
)

func TestValidate_InitialStates(t *testing.T) {
	assert.NoError(t, trigger.Validate("", model.StateWaiting))
	assert.NoError(t, trigger.Validate("", model.StatePaused))
	assert.Error(t, trigger.Validate("", model.StateComplete))
}

func TestValidate_LegalTransitions(t *testing.T) {
	cases := []struct {
		from, to model.TriggerState
	}{
		{model.StateWaiting, model.StateAcquired},
		{model.StateAcquired, model.StateExecuting},
		{model.StateExecuting, model.StateComplete},
		{model.StateExecuting, model.StateWaiting},
		{model.StateWaiting, model.StatePaused},
		{model.StatePaused, model.StateWaiting},
		{model.StateBlocked, model.StatePausedBlocked},
		{model.StateWaiting, model.StateComplete},
	}
	for _, c := range cases {
		assert.NoErrorf(t, trigger.Validate(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestValidate_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from, to model.TriggerState
	}{
		{model.StateComplete, model.StateWaiting},
		{model.StatePaused, model.StateExecuting},
	}
	for _, c := range cases {
		assert.Errorf(t, trigger.Validate(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestPauseResumeBlockRoundTrip(t *testing.T) {
	assert.Equal(t, model.StatePaused, trigger.ApplyPause(model.StateWaiting))
	assert.Equal(t, model.StatePausedBlocked, trigger.ApplyPause(model.StateBlocked))
	assert.Equal(t, model.StateWaiting, trigger.ApplyResume(model.StatePaused))
	assert.Equal(t, model.StateBlocked, trigger.ApplyResume(model.StatePausedBlocked))
	assert.Equal(t, model.StateBlocked, trigger.ApplyBlock(model.StateWaiting))
	assert.Equal(t, model.StatePausedBlocked, trigger.ApplyBlock(model.StatePaused))
	assert.Equal(t, model.StateWaiting, trigger.ApplyUnblock(model.StateBlocked))
	assert.Equal(t, model.StatePaused, trigger.ApplyUnblock(model.StatePausedBlocked))
}

func TestIsRunnableAndBlocked(t *testing.T) {
	assert.True(t, trigger.IsRunnable(model.StateWaiting))
	assert.False(t, trigger.IsRunnable(model.StateAcquired))
	assert.True(t, trigger.Blocked(model.StateBlocked))
	assert.True(t, trigger.Blocked(model.StatePausedBlocked))
	assert.False(t, trigger.Blocked(model.StateWaiting))
}
