// Package model defines the core data types shared by the store contract,
// the trigger state machine, and the scheduler loop.
package model

import "fmt"

// JobKey identifies a job definition by name within a group.
type JobKey struct {
	Name  string
	Group string
}

// String renders the key as "group.name", matching the composite
// key convention used for trigger/job identity.
func (k JobKey) String() string {
	return fmt.Sprintf("%s.%s", k.Group, k.Name)
}

// TriggerKey identifies a trigger by name within a group.
type TriggerKey struct {
	Name  string
	Group string
}

func (k TriggerKey) String() string {
	return fmt.Sprintf("%s.%s", k.Group, k.Name)
}

// DefaultGroup is used when a caller does not specify one, matching the
// source system's "DEFAULT" group convention.
const DefaultGroup = "DEFAULT"
