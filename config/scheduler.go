package config

import "time"

// SchedulerConfig tunes the scheduler loop, misfire handler, and cluster
// manager of one Chronos instance.
type SchedulerConfig struct {
	// InstanceID identifies this process among its cluster peers. Left
	// empty, the façade generates one (see internal/facade).
	InstanceID string `env:"INSTANCE_ID"`

	// AcquireBatchSize bounds how many triggers one scheduler loop cycle
	// acquires at a time.
	AcquireBatchSize int `env:"ACQUIRE_BATCH_SIZE" envDefault:"1"`
	// AcquireTimeWindow additionally admits triggers firing within this much
	// further time into one acquisition batch. Zero means strictly-due only.
	AcquireTimeWindow time.Duration `env:"ACQUIRE_TIME_WINDOW" envDefault:"0s"`
	// IdleWaitMax bounds how long the loop sleeps when nothing is due,
	// before re-checking regardless of a scheduling-change signal.
	IdleWaitMax time.Duration `env:"IDLE_WAIT_MAX" envDefault:"30s"`

	// MisfireThreshold is how far past NextFireTime a trigger may drift
	// before the misfire handler resolves it.
	MisfireThreshold time.Duration `env:"MISFIRE_THRESHOLD" envDefault:"60s"`
	// MisfireBatchSize bounds one misfire sweep.
	MisfireBatchSize int `env:"MISFIRE_BATCH_SIZE" envDefault:"50"`

	// CheckInInterval is how often this instance refreshes its cluster
	// liveness row.
	CheckInInterval time.Duration `env:"CHECK_IN_INTERVAL" envDefault:"15s"`
	// ToleranceSkew is added on top of a peer's own CheckInInterval before
	// it is declared failed (defaults to zero, meaning one full interval of
	// slack before a peer's triggers are recovered).
	ToleranceSkew time.Duration `env:"TOLERANCE_SKEW" envDefault:"0s"`

	// RunnerConcurrency bounds the number of concurrently executing jobs.
	RunnerConcurrency int `env:"RUNNER_CONCURRENCY" envDefault:"10"`
}

// Sanitize clamps SchedulerConfig values to safe minimums.
func (c *SchedulerConfig) Sanitize() {
	if c.AcquireBatchSize <= 0 {
		c.AcquireBatchSize = 1
	}
	if c.IdleWaitMax <= 0 {
		c.IdleWaitMax = 30 * time.Second
	}
	if c.MisfireThreshold <= 0 {
		c.MisfireThreshold = 60 * time.Second
	}
	if c.MisfireBatchSize <= 0 {
		c.MisfireBatchSize = 50
	}
	if c.CheckInInterval <= 0 {
		c.CheckInInterval = 15 * time.Second
	}
	if c.ToleranceSkew <= 0 {
		c.ToleranceSkew = c.CheckInInterval
	}
	if c.RunnerConcurrency <= 0 {
		c.RunnerConcurrency = 10
	}
}
