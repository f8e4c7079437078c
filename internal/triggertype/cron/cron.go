// Package cron implements a cron-expression trigger type on top of
// robfig/cron/v3's schedule parser, the schedule computation boundary's
// second example implementation. Chronos's core never imports
// robfig/cron/v3 directly, only this example package does.
package cron

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/model"
)

// Misfire instructions specific to cron triggers.
const (
	MisfireFireOnceNow model.MisfireInstruction = 1
)

// Params is the cron trigger type's opaque ScheduleParams payload.
type Params struct {
	Expression string `json:"expression"`
	TimeZone   string `json:"timeZone"` // IANA zone id; "" means UTC
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func decode(raw json.RawMessage) (Params, cron.Schedule, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil, apperr.New(apperr.CodeValidation, "cron trigger missing schedule params")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, nil, apperr.Wrap(err, apperr.CodeValidation, "decode cron trigger params")
	}
	loc := time.UTC
	if p.TimeZone != "" {
		l, err := time.LoadLocation(p.TimeZone)
		if err != nil {
			return p, nil, apperr.Wrapf(err, apperr.CodeValidation, "unknown time zone %q", p.TimeZone)
		}
		loc = l
	}
	sched, err := parser.Parse(p.Expression)
	if err != nil {
		return p, nil, apperr.Wrapf(err, apperr.CodeValidation, "parse cron expression %q", p.Expression)
	}
	return p, scheduleInLocation{sched, loc}, nil
}

// scheduleInLocation evaluates an underlying cron.Schedule in a fixed
// location regardless of the instant passed in, since robfig/cron/v3
// resolves "local" fields from the time.Time argument's own location.
type scheduleInLocation struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s scheduleInLocation) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc)).UTC()
}

func encode(p Params) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// Handle implements triggertype.Handle over a robfig/cron/v3 expression.
type Handle struct{}

// Name returns "cron".
func (Handle) Name() string { return "cron" }

// ComputeFirstFireTime returns the first cron occurrence at or after
// t.StartTime admitted by cal.
func (Handle) ComputeFirstFireTime(t model.Trigger, cal model.Calendar) (time.Time, json.RawMessage, error) {
	p, sched, err := decode(t.ScheduleParams)
	if err != nil {
		return time.Time{}, nil, err
	}
	fire := sched.Next(t.StartTime.Add(-time.Second))
	for cal != nil && !cal.IsTimeIncluded(fire) {
		fire = sched.Next(fire)
	}
	return fire, encode(p), nil
}

// ComputeNextFireTime returns the next cron occurrence strictly after
// `after` admitted by cal, or nil once past t.EndTime.
func (Handle) ComputeNextFireTime(t model.Trigger, after time.Time, cal model.Calendar) (*time.Time, json.RawMessage, error) {
	p, sched, err := decode(t.ScheduleParams)
	if err != nil {
		return nil, nil, err
	}
	next := sched.Next(after)
	for cal != nil && !cal.IsTimeIncluded(next) {
		next = sched.Next(next)
	}
	if t.EndTime != nil && next.After(*t.EndTime) {
		return nil, encode(p), nil
	}
	return &next, encode(p), nil
}

// UpdateAfterMisfire resolves t.MisfireInstruction. MisfireSmartPolicy
// resolves to MisfireFireOnceNow: a cron trigger that missed one or more
// occurrences fires once immediately and rejoins its cadence from there,
// rather than replaying every missed occurrence.
func (h Handle) UpdateAfterMisfire(t model.Trigger, now time.Time) (*time.Time, json.RawMessage, error) {
	p, _, err := decode(t.ScheduleParams)
	if err != nil {
		return nil, nil, err
	}

	instruction := t.MisfireInstruction
	if instruction == model.MisfireSmartPolicy {
		instruction = MisfireFireOnceNow
	}

	switch instruction {
	case model.MisfireIgnore:
		return t.NextFireTime, encode(p), nil
	case MisfireFireOnceNow:
		fire := now
		return &fire, encode(p), nil
	default:
		return nil, nil, apperr.Newf(apperr.CodeValidation, "unsupported cron misfire instruction %d", instruction)
	}
}

// MayFireAgain always reports true: a valid cron expression never
// exhausts its own schedule (it is bounded only by t.EndTime, which the
// caller checks separately).
func (Handle) MayFireAgain(t model.Trigger) bool {
	return true
}
