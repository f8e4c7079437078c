// Package calendar re-exports the core's Calendar boundary type so trigger
// type implementations and calendar implementations share one import.
package calendar

import "github.com/target/chronos/internal/model"

// Calendar excludes instants from a trigger's computed fire times.
type Calendar = model.Calendar
