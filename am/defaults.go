package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "jobpulse.db")

	// Record store defaults
	v.SetDefault("records.driver", DriverSQLite)
	v.SetDefault("records.max_conns", 4)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.host", "")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
	})
	v.SetDefault("server.shutdown_timeout_seconds", 30)

	// Pulse (queue engine) defaults
	v.SetDefault("pulse.workers", 2)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.max_pending", 1000)
	v.SetDefault("pulse.max_attempts", 3)
	v.SetDefault("pulse.backoff_base_seconds", 2)
	v.SetDefault("pulse.backoff_max_seconds", 300)

	// Import defaults
	v.SetDefault("import.interval_seconds", 3600) // hourly
	v.SetDefault("import.auto_start", true)
	v.SetDefault("import.default_priority", 0)
	v.SetDefault("import.default_concurrency", 3)
	v.SetDefault("import.default_batch_size", 100)
	v.SetDefault("import.retention_days", 30)

	// Fetch defaults
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.requests_per_minute", 30)
	v.SetDefault("fetch.user_agent", "jobpulse/1.0 (+https://github.com/teranos/jobpulse)")
	v.SetDefault("fetch.max_body_bytes", 20<<20)
	v.SetDefault("fetch.allow_private_hosts", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("records.dsn", "JOBPULSE_RECORDS_DSN", "DATABASE_URL")
}
