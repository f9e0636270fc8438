// Package config loads the engine configuration from YAML with environment
// overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	Hold        HoldConfig        `yaml:"hold"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Rehydration RehydrationConfig `yaml:"rehydration"`
	Ops         OpsConfig         `yaml:"ops"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RedisConfig configures the shared key-value layer.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig configures the durable source-of-truth store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
	Migrate         bool   `yaml:"migrate"`
}

// HoldConfig configures the lease lifecycle.
type HoldConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	// GraceSeconds extends the physical record TTL past the logical lease
	// expiry. It must exceed the maximum plausible reaper sweep latency.
	GraceSeconds int `yaml:"grace_seconds"`
}

// ReaperConfig configures the expiry sweep.
type ReaperConfig struct {
	IntervalSeconds int   `yaml:"interval_seconds"`
	BatchSize       int64 `yaml:"batch_size"`
}

// RehydrationConfig configures the reconciliation job.
type RehydrationConfig struct {
	Schedule       string `yaml:"schedule"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// OpsConfig configures the operational HTTP listener.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Redis:       RedisConfig{Addr: "localhost:6379"},
		Database:    DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 300, Migrate: true},
		Hold:        HoldConfig{TTLSeconds: 900, GraceSeconds: 1800},
		Reaper:      ReaperConfig{IntervalSeconds: 30, BatchSize: 256},
		Rehydration: RehydrationConfig{Schedule: "*/5 * * * *", LockTTLSeconds: 120},
		Ops:         OpsConfig{Addr: ":8090"},
		Logging:     LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STOCKHOLD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("STOCKHOLD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("STOCKHOLD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("STOCKHOLD_OPS_ADDR"); v != "" {
		cfg.Ops.Addr = v
	}
	if v := os.Getenv("STOCKHOLD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.Hold.TTLSeconds <= 0 {
		return fmt.Errorf("hold.ttl_seconds must be positive, got %d", c.Hold.TTLSeconds)
	}
	if c.Hold.GraceSeconds <= 0 {
		return fmt.Errorf("hold.grace_seconds must be positive, got %d", c.Hold.GraceSeconds)
	}
	if c.Hold.GraceSeconds < c.Reaper.IntervalSeconds {
		return fmt.Errorf("hold.grace_seconds (%d) must exceed the reaper interval (%d): an expired record evicted before the sweep reads it is lost",
			c.Hold.GraceSeconds, c.Reaper.IntervalSeconds)
	}
	if c.Reaper.IntervalSeconds <= 0 {
		return fmt.Errorf("reaper.interval_seconds must be positive, got %d", c.Reaper.IntervalSeconds)
	}
	if c.Reaper.BatchSize <= 0 {
		return fmt.Errorf("reaper.batch_size must be positive, got %d", c.Reaper.BatchSize)
	}
	if c.Rehydration.LockTTLSeconds <= 0 {
		return fmt.Errorf("rehydration.lock_ttl_seconds must be positive, got %d", c.Rehydration.LockTTLSeconds)
	}
	return nil
}

// HoldTTL returns the logical lease TTL.
func (c *Config) HoldTTL() time.Duration {
	return time.Duration(c.Hold.TTLSeconds) * time.Second
}

// HoldGrace returns the physical record grace period.
func (c *Config) HoldGrace() time.Duration {
	return time.Duration(c.Hold.GraceSeconds) * time.Second
}

// ReaperInterval returns the sweep interval.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSeconds) * time.Second
}

// RehydrationLockTTL returns the lock lease duration.
func (c *Config) RehydrationLockTTL() time.Duration {
	return time.Duration(c.Rehydration.LockTTLSeconds) * time.Second
}
