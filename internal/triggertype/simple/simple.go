// Package simple implements a fixed-interval, fixed-repeat-count trigger
// type, the schedule computation boundary's simplest example
// implementation. It is not part of the core: Chronos never imports this
// package from internal/engine, internal/misfire, or internal/cluster, only
// from example wiring in cmd/chronosd.
package simple

import (
	"encoding/json"
	"time"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/model"
)

// Misfire instructions specific to simple triggers. Each trigger type
// defines its own instruction table rather than sharing one global set.
const (
	MisfireFireNow                                model.MisfireInstruction = 1
	MisfireRescheduleNowWithExistingRepeatCount    model.MisfireInstruction = 2
	MisfireRescheduleNowWithRemainingRepeatCount   model.MisfireInstruction = 3
	MisfireRescheduleNextWithRemainingCount        model.MisfireInstruction = 4
	MisfireRescheduleNextWithExistingCount         model.MisfireInstruction = 5
)

// RepeatForever marks a schedule that never exhausts its repeat count.
const RepeatForever = -1

// Params is the simple trigger type's opaque ScheduleParams payload.
type Params struct {
	RepeatInterval time.Duration `json:"repeatInterval"`
	RepeatCount    int           `json:"repeatCount"` // RepeatForever for unbounded
	TimesTriggered int           `json:"timesTriggered"`
}

func decode(raw json.RawMessage) (Params, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, apperr.Wrap(err, apperr.CodeValidation, "decode simple trigger params")
	}
	return p, nil
}

func encode(p Params) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// Handle implements triggertype.Handle for fixed-interval repeating
// triggers.
type Handle struct{}

// Name returns "simple".
func (Handle) Name() string { return "simple" }

// ComputeFirstFireTime returns t.StartTime itself, advanced forward to the
// first instant cal admits.
func (Handle) ComputeFirstFireTime(t model.Trigger, cal model.Calendar) (time.Time, json.RawMessage, error) {
	p, err := decode(t.ScheduleParams)
	if err != nil {
		return time.Time{}, nil, err
	}
	fire := t.StartTime
	for cal != nil && !cal.IsTimeIncluded(fire) {
		fire = fire.Add(time.Second)
	}
	return fire, encode(p), nil
}

// ComputeNextFireTime advances by RepeatInterval from `after` until an
// instant cal admits, decrementing the remaining repeat budget. A nil
// result means the schedule is exhausted or past t.EndTime.
func (Handle) ComputeNextFireTime(t model.Trigger, after time.Time, cal model.Calendar) (*time.Time, json.RawMessage, error) {
	p, err := decode(t.ScheduleParams)
	if err != nil {
		return nil, nil, err
	}
	if p.RepeatCount != RepeatForever && p.TimesTriggered >= p.RepeatCount {
		return nil, encode(p), nil
	}
	if p.RepeatInterval <= 0 {
		return nil, encode(p), nil
	}

	next := after.Add(p.RepeatInterval)
	for cal != nil && !cal.IsTimeIncluded(next) {
		next = next.Add(p.RepeatInterval)
	}
	if t.EndTime != nil && next.After(*t.EndTime) {
		return nil, encode(p), nil
	}

	p.TimesTriggered++
	return &next, encode(p), nil
}

// UpdateAfterMisfire resolves t.MisfireInstruction, including
// MisfireSmartPolicy, which resolves to MisfireFireNow for a one-shot
// schedule (RepeatCount 0) and to MisfireRescheduleNowWithRemainingRepeatCount
// otherwise (S2 of the testable properties: a one-shot's SMART_POLICY
// resolution is FIRE_NOW).
func (h Handle) UpdateAfterMisfire(t model.Trigger, now time.Time) (*time.Time, json.RawMessage, error) {
	p, err := decode(t.ScheduleParams)
	if err != nil {
		return nil, nil, err
	}

	instruction := t.MisfireInstruction
	if instruction == model.MisfireSmartPolicy {
		if p.RepeatCount == 0 {
			instruction = MisfireFireNow
		} else {
			instruction = MisfireRescheduleNowWithRemainingRepeatCount
		}
	}

	switch instruction {
	case model.MisfireIgnore:
		return t.NextFireTime, encode(p), nil

	case MisfireFireNow:
		fire := now
		return &fire, encode(p), nil

	case MisfireRescheduleNowWithExistingRepeatCount:
		fire := now
		return &fire, encode(p), nil

	case MisfireRescheduleNowWithRemainingRepeatCount:
		fire := now
		remaining := p.RepeatCount - p.TimesTriggered
		if p.RepeatCount != RepeatForever && remaining >= 0 {
			p.RepeatCount = remaining
			p.TimesTriggered = 0
		}
		return &fire, encode(p), nil

	case MisfireRescheduleNextWithExistingCount:
		return h.rescheduleForward(t, p, now)

	case MisfireRescheduleNextWithRemainingCount:
		if p.RepeatCount != RepeatForever {
			p.RepeatCount -= p.TimesTriggered
			p.TimesTriggered = 0
		}
		return h.rescheduleForward(t, p, now)

	default:
		return nil, nil, apperr.Newf(apperr.CodeValidation, "unsupported simple misfire instruction %d", instruction)
	}
}

// rescheduleForward advances the original schedule from its last fire time
// by whole RepeatInterval steps until it reaches or passes now, so the
// trigger rejoins its original cadence rather than firing immediately.
func (h Handle) rescheduleForward(t model.Trigger, p Params, now time.Time) (*time.Time, json.RawMessage, error) {
	if p.RepeatInterval <= 0 {
		fire := now
		return &fire, encode(p), nil
	}

	base := t.StartTime
	if t.NextFireTime != nil {
		base = *t.NextFireTime
	}
	next := base
	for !next.After(now) {
		next = next.Add(p.RepeatInterval)
	}
	if t.EndTime != nil && next.After(*t.EndTime) {
		return nil, encode(p), nil
	}
	return &next, encode(p), nil
}

// MayFireAgain reports whether the schedule's repeat budget is unexhausted.
func (Handle) MayFireAgain(t model.Trigger) bool {
	p, err := decode(t.ScheduleParams)
	if err != nil {
		return false
	}
	return p.RepeatCount == RepeatForever || p.TimesTriggered < p.RepeatCount
}
