// Package apperr provides the structured error kinds used across the store
// contract, the scheduler loop, and the job runner pool.
package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes the error kinds named by the job store contract and the
// scheduler's own operations.
type Code string

const (
	// CodeObjectAlreadyExists indicates a job or trigger with the same key is
	// already persisted.
	CodeObjectAlreadyExists Code = "object_already_exists"
	// CodeJobPersistence indicates the store could not complete a persistence
	// operation (connection loss, serialization failure, driver error).
	CodeJobPersistence Code = "job_persistence"
	// CodeScheduleMisfire indicates a trigger missed its fire window past its
	// misfire threshold. Delivered to listeners via the Signaler, not
	// returned from a store call.
	CodeScheduleMisfire Code = "schedule_misfire"
	// CodeJobExecution indicates a job's execution returned an error.
	CodeJobExecution Code = "job_execution"
	// CodeSchedulerOperation indicates a façade operation could not be
	// completed (e.g. unscheduling a job key that does not exist).
	CodeSchedulerOperation Code = "scheduler_operation"
	// CodeNotFound indicates a requested job, trigger, or calendar key does
	// not exist.
	CodeNotFound Code = "not_found"
	// CodeValidation indicates the caller supplied an invalid definition.
	CodeValidation Code = "validation"
	// CodeTimeout indicates an operation did not complete within its
	// deadline.
	CodeTimeout Code = "timeout"
	// CodeCanceled indicates an operation was canceled by its caller.
	CodeCanceled Code = "canceled"
)

// Error is a structured error carrying a Code, a human-readable Message, and
// an optional Cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Key     string // job or trigger key the error refers to, when applicable

	// JobExecution-specific directives. Set only when Code is
	// CodeJobExecution; otherwise zero-valued and ignored.
	RefireImmediately       bool
	UnscheduleFiringTrigger bool
	UnscheduleAllTriggers   bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a Code and Message, preserving Cause.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a Code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// AlreadyExists builds the store contract's ObjectAlreadyExists error for the
// given job or trigger key.
func AlreadyExists(key string) *Error {
	return &Error{Code: CodeObjectAlreadyExists, Message: "object already exists", Key: key}
}

// JobExecution builds a JobExecution error carrying the three directive
// flags a job handler may request.
func JobExecution(cause error, refireImmediately, unscheduleFiring, unscheduleAll bool) *Error {
	return &Error{
		Code:                    CodeJobExecution,
		Message:                 "job execution failed",
		Cause:                   cause,
		RefireImmediately:       refireImmediately,
		UnscheduleFiringTrigger: unscheduleFiring,
		UnscheduleAllTriggers:   unscheduleAll,
	}
}

func isCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsNotFound reports whether err is a NotFound apperr.Error.
func IsNotFound(err error) bool { return isCode(err, CodeNotFound) }

// IsAlreadyExists reports whether err is an ObjectAlreadyExists apperr.Error.
func IsAlreadyExists(err error) bool { return isCode(err, CodeObjectAlreadyExists) }

// IsJobPersistence reports whether err is a JobPersistence apperr.Error.
func IsJobPersistence(err error) bool { return isCode(err, CodeJobPersistence) }

// IsTimeout reports whether err is a Timeout apperr.Error.
func IsTimeout(err error) bool { return isCode(err, CodeTimeout) }

// IsCanceled reports whether err is a Canceled apperr.Error.
func IsCanceled(err error) bool { return isCode(err, CodeCanceled) }

// GetCode returns the Code carried by err, or the empty Code if err is not an
// *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
