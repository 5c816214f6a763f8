package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Reporting ReportingConfig
	Executor  ExecutorConfig
	LogLevel  string
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// RedisConfig enables the distributed item lock and the shared change feed.
// An empty Address keeps both in-process.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Address != "" }

// ReportingConfig holds scheduler-related settings.
type ReportingConfig struct {
	CronSchedule string
	Directory    string
	Timezone     string
}

// Location resolves Timezone.
func (r ReportingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(r.Timezone)
}

// ExecutorConfig tunes the movement retry loop.
type ExecutorConfig struct {
	MaxAttempts int
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// missing .env is fine when everything comes from the environment
		_ = godotenv.Load()
	}

	redisDB, err := getenvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getenvInt("EXECUTOR_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Store: StoreConfig{
			Driver:      getenvWithDefault("STORE_DRIVER", DriverSQLite),
			SQLitePath:  getenvWithDefault("SQLITE_PATH", "spares.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Address:  os.Getenv("REDIS_ADDRESS"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Channel:  getenvWithDefault("REDIS_CHANNEL", "spares:changes"),
		},
		Reporting: ReportingConfig{
			CronSchedule: getenvWithDefault("REPORT_CRON", "0 1 1 * *"),
			Directory:    getenvWithDefault("REPORT_DIR", "reports"),
			Timezone:     getenvWithDefault("REPORT_TIMEZONE", "UTC"),
		},
		Executor: ExecutorConfig{
			MaxAttempts: maxAttempts,
		},
		LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be provided for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be provided for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}

	if c.Redis.Enabled() && c.Redis.Channel == "" {
		return errors.New("REDIS_CHANNEL must not be empty when REDIS_ADDRESS is set")
	}

	if c.Reporting.CronSchedule == "" {
		return errors.New("REPORT_CRON must be provided")
	}
	if c.Reporting.Directory == "" {
		return errors.New("REPORT_DIR must be provided")
	}
	if _, err := c.Reporting.Location(); err != nil {
		return fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}

	if c.Executor.MaxAttempts < 1 {
		return errors.New("EXECUTOR_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
