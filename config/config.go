// Package config loads Chronos's ambient configuration from environment
// variables, following the caarlos0/env struct-composition
// convention (config/config.go, config/database.go in
// github.com/target/mmk-ui-api's merrymaker-go service).
package config

import (
	"os"
	"strings"
)

// AppConfig is the root configuration struct. Load it with
// github.com/caarlos0/env/v11's env.Parse, then call Sanitize.
type AppConfig struct {
	// IsDev controls development-mode behavior. Set DEV=true or
	// NODE_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Postgres configures the relational job store.
	Postgres DBConfig `envPrefix:"DB_"`

	// Scheduler tunes the scheduler loop, misfire handler, and cluster
	// manager.
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`

	// Observability configures metrics emission.
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env. Call
// this once after env.Parse.
func (c *AppConfig) Sanitize() {
	c.Scheduler.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables, the
// latter as a fallback since it is common in adjacent frontend tooling.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
