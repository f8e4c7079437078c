// Package trigger implements the trigger state machine: the single source
// of truth both store implementations consult before persisting a
// transition.
package trigger

import (
	"fmt"

	"github.com/target/chronos/internal/model"
)

// legalTransitions enumerates every transition the state machine allows.
// A transition not listed here is rejected by Validate.
var legalTransitions = map[model.TriggerState]map[model.TriggerState]bool{
	model.StateWaiting: {
		model.StateAcquired: true,
		model.StatePaused:   true,
		model.StateDeleted:  true,
		model.StateBlocked:  true,
		model.StateComplete: true, // misfire resolution finds no next fire remains
	},
	model.StateAcquired: {
		model.StateExecuting: true,
		model.StateWaiting:   true, // release without firing
		model.StateError:     true,
		model.StateDeleted:   true,
	},
	model.StateExecuting: {
		model.StateWaiting:   true, // re-fire (repeat triggers)
		model.StateComplete:  true,
		model.StateError:     true,
		model.StateBlocked:   true,
		model.StateDeleted:   true,
	},
	model.StatePaused: {
		model.StateWaiting:       true,
		model.StatePausedBlocked: true,
		model.StateDeleted:       true,
	},
	model.StateBlocked: {
		model.StateWaiting:       true,
		model.StatePausedBlocked: true,
		model.StateDeleted:       true,
	},
	model.StatePausedBlocked: {
		model.StatePaused:  true,
		model.StateBlocked: true,
		model.StateDeleted: true,
	},
	model.StateError: {
		model.StateWaiting: true,
		model.StateDeleted: true,
	},
	model.StateComplete: {
		model.StateDeleted: true,
	},
}

// Validate reports whether transitioning a trigger from "from" to "to" is
// legal. The zero value of TriggerState ("") is accepted as "from" to permit
// validating the initial state assignment on trigger creation.
func Validate(from, to model.TriggerState) error {
	if from == "" {
		switch to {
		case model.StateWaiting, model.StatePaused, model.StateBlocked, model.StatePausedBlocked:
			return nil
		default:
			return fmt.Errorf("trigger: invalid initial state %q", to)
		}
	}
	if from == to {
		return nil
	}
	if legalTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("trigger: illegal transition %s -> %s", from, to)
}

// IsPersisted reports whether a state is one the store may hold; DELETED is
// never persisted, only returned to a caller that just removed the row.
func IsPersisted(s model.TriggerState) bool {
	return s != model.StateDeleted
}

// IsRunnable reports whether a trigger in state s is eligible for
// acquisition by the scheduler loop.
func IsRunnable(s model.TriggerState) bool {
	return s == model.StateWaiting
}

// Blocked reports whether s is one of the two blocked variants used to
// serialize non-concurrent jobs cluster-wide.
func Blocked(s model.TriggerState) bool {
	return s == model.StateBlocked || s == model.StatePausedBlocked
}

// Paused reports whether s is one of the two paused variants.
func Paused(s model.TriggerState) bool {
	return s == model.StatePaused || s == model.StatePausedBlocked
}

// ApplyPause returns the paused counterpart of s (PAUSED_BLOCKED if s was
// already BLOCKED, PAUSED otherwise).
func ApplyPause(s model.TriggerState) model.TriggerState {
	if s == model.StateBlocked {
		return model.StatePausedBlocked
	}
	return model.StatePaused
}

// ApplyResume returns the unpaused counterpart of s (BLOCKED if s was
// PAUSED_BLOCKED, WAITING otherwise).
func ApplyResume(s model.TriggerState) model.TriggerState {
	if s == model.StatePausedBlocked {
		return model.StateBlocked
	}
	return model.StateWaiting
}

// ApplyBlock returns the blocked counterpart of s.
func ApplyBlock(s model.TriggerState) model.TriggerState {
	if Paused(s) {
		return model.StatePausedBlocked
	}
	return model.StateBlocked
}

// ApplyUnblock returns the unblocked counterpart of s.
func ApplyUnblock(s model.TriggerState) model.TriggerState {
	if s == model.StatePausedBlocked {
		return model.StatePaused
	}
	return model.StateWaiting
}
