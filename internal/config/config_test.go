package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.NotEmpty(t, cfg.Server.Host)
	assert.NotZero(t, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Database.Path)
	assert.NotEmpty(t, cfg.Log.Level)
	assert.NotEmpty(t, cfg.Log.FilePath)
}

func TestDefaultAutomationSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, 60*time.Second, cfg.Automation.CronInterval)
	assert.Equal(t, 48*time.Hour, cfg.Automation.PendingTTL)
	assert.Equal(t, 10, cfg.Automation.DefaultMaxPerMinute)
	assert.Greater(t, cfg.Automation.EventBatchSize, 0)
	assert.Greater(t, cfg.Automation.WebhookTimeout, time.Duration(0))
}

func TestDefaultDatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	// SQLite: a single writer connection avoids lock contention.
	assert.Equal(t, 1, cfg.Database.MaxOpenConns)
	assert.Greater(t, cfg.Database.BusyTimeout, time.Duration(0))
	assert.NotZero(t, cfg.Database.ConnMaxLifetime)
}

func TestDefaultMonitoringSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)
	// Tracing is opt-in.
	assert.False(t, cfg.Monitoring.Tracing.Enabled)
	assert.NotEmpty(t, cfg.Monitoring.Tracing.ServiceName)
}
