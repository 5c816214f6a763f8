package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"APP_PORT", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_CHANNEL",
	"REPORT_CRON", "REPORT_DIR", "REPORT_TIMEZONE",
	"EXECUTOR_MAX_ATTEMPTS", "LOG_LEVEL",
}

// clearEnv blanks every key so values leaking from the host do not matter.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: no configuration at all
	clearEnv(t)

	// WHEN: loading without an env file
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))

	// THEN: defaults apply
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "spares.db", cfg.Store.SQLitePath)
	assert.Equal(t, "0 1 1 * *", cfg.Reporting.CronSchedule)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_FromEnvFile(t *testing.T) {
	// GIVEN: an env file selecting postgres and redis
	clearEnv(t)
	for _, k := range allKeys {
		// godotenv does not override variables that are already set
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), ".env")
	content := "STORE_DRIVER=postgres\n" +
		"DATABASE_URL=postgres://spares@localhost/spares\n" +
		"REDIS_ADDRESS=localhost:6379\n" +
		"EXECUTOR_MAX_ATTEMPTS=8\n" +
		"REPORT_TIMEZONE=UTC\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		for _, k := range allKeys {
			os.Unsetenv(k)
		}
	})

	// WHEN
	cfg, err := Load(path)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://spares@localhost/spares", cfg.Store.DatabaseURL)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "spares:changes", cfg.Redis.Channel)
	assert.Equal(t, 8, cfg.Executor.MaxAttempts)
}

func TestValidate_Rejects(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: "8080"},
			Store:     StoreConfig{Driver: DriverMemory},
			Reporting: ReportingConfig{CronSchedule: "0 1 1 * *", Directory: "reports", Timezone: "UTC"},
			Executor:  ExecutorConfig{MaxAttempts: 5},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"sqlite without path", func(c *Config) { c.Store.Driver = DriverSQLite }},
		{"redis without channel", func(c *Config) { c.Redis.Address = "localhost:6379" }},
		{"bad timezone", func(c *Config) { c.Reporting.Timezone = "Mars/Olympus" }},
		{"zero attempts", func(c *Config) { c.Executor.MaxAttempts = 0 }},
		{"empty port", func(c *Config) { c.Server.Port = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_BadInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXECUTOR_MAX_ATTEMPTS", "many")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.ErrorContains(t, err, "EXECUTOR_MAX_ATTEMPTS")
}
