package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_ParseAndSanitize(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("SCHEDULER_CHECK_IN_INTERVAL", "10s")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.CheckInInterval)
	// ToleranceSkew defaults to one full check-in interval.
	assert.Equal(t, 10*time.Second, cfg.Scheduler.ToleranceSkew)
}

func TestAppConfig_DetectDevMode(t *testing.T) {
	t.Setenv("NODE_ENV", "development")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.True(t, cfg.IsDev)
}

func TestSchedulerConfig_SanitizeClampsDefaults(t *testing.T) {
	cfg := SchedulerConfig{}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.AcquireBatchSize)
	assert.Equal(t, 30*time.Second, cfg.IdleWaitMax)
	assert.Equal(t, 60*time.Second, cfg.MisfireThreshold)
	assert.Equal(t, 50, cfg.MisfireBatchSize)
	assert.Equal(t, 15*time.Second, cfg.CheckInInterval)
	assert.Equal(t, cfg.CheckInInterval, cfg.ToleranceSkew)
	assert.Equal(t, 10, cfg.RunnerConcurrency)
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " "}
	cfg.Sanitize()
	assert.False(t, cfg.Enabled, "expected enabled to be false when address is empty")

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " statsd:1234 "}
	cfg.Sanitize()
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "statsd:1234", cfg.StatsdAddress)
}
