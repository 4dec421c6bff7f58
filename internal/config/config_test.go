package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "month_first", cfg.Parser.DateOrder)
	assert.Equal(t, 15, cfg.Workflow.DueDateOffsetDays)
	assert.True(t, cfg.Workflow.StipendDailyAmount.Equal(decimal.NewFromInt(100)))
	assert.False(t, cfg.Redis.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("SCHEDULER_ENABLED", "true")
	t.Setenv("SCHEDULER_TENANTS", "local-12, local-40,,")
	t.Setenv("LATE_FEE_RATE", "0.05")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("WORKER_POOL_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"local-12", "local-40"}, cfg.Scheduler.Tenants)
	assert.Equal(t, "0.05", cfg.Workflow.LateFeeRate.String())
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 10, cfg.Worker.PoolSize)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"date order", func(c *Config) { c.Parser.DateOrder = "ymd" }},
		{"scheduler without tenants", func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Tenants = nil }},
		{"late fee", func(c *Config) { c.Workflow.LateFeeRate = decimal.NewFromInt(2) }},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"currency", func(c *Config) { c.Ledger.Currency = "CA" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
