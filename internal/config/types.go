// Package config loads the pipewright application configuration and owns the
// validator shared by every document the service accepts.
package config

import (
	"time"

	// Zone names resolve without a system zoneinfo database.
	_ "time/tzdata"
)

// Config is the application configuration document.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Partition  string           `yaml:"partition,omitempty"`
	Logging    LoggingConfig    `yaml:"logging"`
	Queue      QueueConfig      `yaml:"queue"`
	Operator   OperatorConfig   `yaml:"operator"`
	Repository RepositoryConfig `yaml:"repository"`
	TimeWindow TimeWindowConfig `yaml:"time_window"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RedisConfig locates the primary store and the optional store being migrated away from.
type RedisConfig struct {
	Primary    RedisEndpoint  `yaml:"primary" validate:"required"`
	Previous   *RedisEndpoint `yaml:"previous,omitempty" validate:"omitempty"`
	Pipelining *bool          `yaml:"pipelining,omitempty"`
}

// RedisEndpoint is a single Redis server.
type RedisEndpoint struct {
	Address  string `yaml:"address" validate:"required,hostname_port"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" validate:"min=0,max=15"`
}

// LoggingConfig controls the zerolog adapter.
type LoggingConfig struct {
	Level         string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	HumanReadable bool   `yaml:"human_readable,omitempty"`
}

// QueueConfig selects the message queue backend and worker sizing.
type QueueConfig struct {
	Backend      string `yaml:"backend,omitempty" validate:"omitempty,oneof=redis memory"`
	Key          string `yaml:"key,omitempty"`
	Parallelism  int    `yaml:"parallelism,omitempty" validate:"omitempty,min=1,max=256"`
	PollInterval string `yaml:"poll_interval,omitempty" validate:"omitempty,duration"`
}

// OperatorConfig bounds the retries of administrative actions.
type OperatorConfig struct {
	RetryAttempts int    `yaml:"retry_attempts,omitempty" validate:"omitempty,min=1,max=20"`
	RetryBackoff  string `yaml:"retry_backoff,omitempty" validate:"omitempty,duration"`
}

// RepositoryConfig tunes bulk scans.
type RepositoryConfig struct {
	ChunkSize int `yaml:"chunk_size,omitempty" validate:"omitempty,min=1,max=10000"`
}

// TimeWindowConfig sets the zone execution windows are evaluated in.
type TimeWindowConfig struct {
	Timezone string `yaml:"timezone,omitempty" validate:"omitempty,timezone"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Address string `yaml:"address,omitempty" validate:"omitempty,hostname_port"`
}

const (
	DefaultRedisAddress  = "localhost:6379"
	DefaultQueueBackend  = "redis"
	DefaultParallelism   = 4
	DefaultPollInterval  = "100ms"
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = "100ms"
	DefaultChunkSize     = 100
	DefaultTimezone      = "UTC"
	DefaultLogLevel      = "info"
	DefaultMetricsAddr   = ":9090"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Redis.Primary.Address == "" {
		c.Redis.Primary.Address = DefaultRedisAddress
	}
	if c.Redis.Pipelining == nil {
		enabled := true
		c.Redis.Pipelining = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = DefaultQueueBackend
	}
	if c.Queue.Parallelism == 0 {
		c.Queue.Parallelism = DefaultParallelism
	}
	if c.Queue.PollInterval == "" {
		c.Queue.PollInterval = DefaultPollInterval
	}
	if c.Operator.RetryAttempts == 0 {
		c.Operator.RetryAttempts = DefaultRetryAttempts
	}
	if c.Operator.RetryBackoff == "" {
		c.Operator.RetryBackoff = DefaultRetryBackoff
	}
	if c.Repository.ChunkSize == 0 {
		c.Repository.ChunkSize = DefaultChunkSize
	}
	if c.TimeWindow.Timezone == "" {
		c.TimeWindow.Timezone = DefaultTimezone
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddr
	}
}

// PollInterval returns the parsed queue poll interval.
func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Queue.PollInterval)
}

// RetryBackoff returns the parsed operator retry interval.
func (c *Config) RetryBackoff() time.Duration {
	return mustDuration(c.Operator.RetryBackoff)
}

// Location loads the time-window zone. Validation guarantees it exists.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeWindow.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PipeliningEnabled reports whether multi-key pipelining is enabled.
func (c *Config) PipeliningEnabled() bool {
	return c.Redis.Pipelining == nil || *c.Redis.Pipelining
}

func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
