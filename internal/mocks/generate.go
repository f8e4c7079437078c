// Package mocks provides gomock implementations for interfaces whose
// doubles benefit from call-count and argument assertions rather than a
// hand-rolled struct per test.
//
// To regenerate after an interface changes, run:
//
//	go generate ./internal/mocks
package mocks

// Generate a mock for JobExecutor so job-execution tests can assert on the
// exact JobExecutionContext a Pool hands an executor, instead of a
// closure-based fake.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_executor_mock.go github.com/target/chronos/internal/runner JobExecutor

// Generate a mock for Signaler so tests can assert which notification a
// component sent without standing up a real Local/PGSignaler.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=signaler_mock.go github.com/target/chronos/internal/signal Signaler
