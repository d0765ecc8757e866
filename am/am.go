// Package am ("I am") holds the jobpulse configuration: defaults, file and
// environment loading, validation, and hot reload.
package am

import "time"

// Config represents the jobpulse configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Records  RecordsConfig  `mapstructure:"records"`
	Server   ServerConfig   `mapstructure:"server"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Import   ImportConfig   `mapstructure:"import"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// DatabaseConfig configures the SQLite database holding jobs and import logs
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Record store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RecordsConfig configures where canonical job records are stored.
// The sqlite driver shares database.path; postgres needs a DSN.
type RecordsConfig struct {
	Driver   string `mapstructure:"driver"`    // "sqlite" (default) or "postgres"
	DSN      string `mapstructure:"dsn"`       // postgres connection string
	MaxConns int    `mapstructure:"max_conns"` // postgres pool size (default: 4)
}

// ServerConfig configures the REST server
type ServerConfig struct {
	Port                   *int     `mapstructure:"port"` // nil = default 8787, 0 is invalid
	Host                   string   `mapstructure:"host"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
}

// DefaultServerPort is used when server.port is omitted
const DefaultServerPort = 8787

// PulseConfig configures the queue engine
type PulseConfig struct {
	Workers            int `mapstructure:"workers"`              // global concurrency limit (default: 2)
	PollIntervalMS     int `mapstructure:"poll_interval_ms"`     // idle worker poll interval (default: 1000)
	MaxPending         int `mapstructure:"max_pending"`          // pending jobs before submissions are rejected (default: 1000)
	MaxAttempts        int `mapstructure:"max_attempts"`         // total attempts per job (default: 3)
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds"` // first retry delay (default: 2)
	BackoffMaxSeconds  int `mapstructure:"backoff_max_seconds"`  // retry delay cap (default: 300)
}

// ImportConfig configures scheduling and the source list
type ImportConfig struct {
	IntervalSeconds    int            `mapstructure:"interval_seconds"`    // periodic trigger interval (default: 3600)
	AutoStart          bool           `mapstructure:"auto_start"`          // start the scheduler with the server (default: true)
	DefaultPriority    int            `mapstructure:"default_priority"`    // priority of scheduled jobs (default: 0)
	DefaultConcurrency int            `mapstructure:"default_concurrency"` // per-job source fan-out (default: 3)
	DefaultBatchSize   int            `mapstructure:"default_batch_size"`  // upsert batch size (default: 100)
	RetentionDays      int            `mapstructure:"retention_days"`      // 0 keeps history forever (default: 30)
	Sources            []SourceConfig `mapstructure:"sources"`
}

// SourceConfig describes one external feed
type SourceConfig struct {
	Name           string            `mapstructure:"name"`
	URL            string            `mapstructure:"url"`
	Format         string            `mapstructure:"format"` // adapter format: "rss", "json"
	Disabled       bool              `mapstructure:"disabled"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"` // overrides fetch.timeout_seconds
	Headers        map[string]string `mapstructure:"headers"`
}

// FetchConfig configures outbound feed requests
type FetchConfig struct {
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`     // per-fetch deadline (default: 30)
	RequestsPerMinute int    `mapstructure:"requests_per_minute"` // per-host pacing, 0 = unlimited (default: 30)
	UserAgent         string `mapstructure:"user_agent"`
	MaxBodyBytes      int64  `mapstructure:"max_body_bytes"`      // default: 20 MiB
	AllowPrivateHosts bool   `mapstructure:"allow_private_hosts"` // disables SSRF blocking (local feeds)
}

// ServerPort returns the configured port or the default
func (c *Config) ServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// ImportInterval returns the scheduler interval
func (c *Config) ImportInterval() time.Duration {
	return time.Duration(c.Import.IntervalSeconds) * time.Second
}

// FetchTimeout returns the fetch deadline for a source
func (c *Config) FetchTimeout(src SourceConfig) time.Duration {
	if src.TimeoutSeconds > 0 {
		return time.Duration(src.TimeoutSeconds) * time.Second
	}
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// EnabledSources returns the sources that are not disabled, in config order
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Import.Sources))
	for _, s := range c.Import.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// File system constants
const (
	DefaultDirPermissions = 0755
)
