package am

import (
	"net/url"
	"strings"

	"github.com/teranos/jobpulse/errors"
)

// Recognized source formats. Kept in sync with the adapters registered by
// source.DefaultRegistry.
var knownFormats = map[string]bool{"rss": true, "json": true}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d (omit for default port %d)", *c.Server.Port, DefaultServerPort)
	}

	switch c.Records.Driver {
	case "", DriverSQLite:
	case DriverPostgres:
		if c.Records.DSN == "" {
			return errors.WithHint(
				errors.New("records.dsn is required when records.driver is postgres"),
				"set JOBPULSE_RECORDS_DSN or DATABASE_URL")
		}
	default:
		return errors.Newf("records.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Records.Driver)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.MaxAttempts < 0 {
		return errors.Newf("pulse.max_attempts must be >= 0, got %d", c.Pulse.MaxAttempts)
	}
	if c.Pulse.BackoffBaseSeconds < 0 || c.Pulse.BackoffMaxSeconds < 0 {
		return errors.New("pulse backoff values must be >= 0")
	}
	if c.Pulse.BackoffMaxSeconds > 0 && c.Pulse.BackoffBaseSeconds > c.Pulse.BackoffMaxSeconds {
		return errors.Newf("pulse.backoff_base_seconds (%d) exceeds pulse.backoff_max_seconds (%d)",
			c.Pulse.BackoffBaseSeconds, c.Pulse.BackoffMaxSeconds)
	}

	// Import interval: 0 = manual triggers only
	if c.Import.IntervalSeconds < 0 {
		return errors.Newf("import.interval_seconds must be >= 0, got %d", c.Import.IntervalSeconds)
	}
	if c.Import.DefaultConcurrency < 0 || c.Import.DefaultBatchSize < 0 {
		return errors.New("import.default_concurrency and import.default_batch_size must be >= 0")
	}
	if c.Import.RetentionDays < 0 {
		return errors.Newf("import.retention_days must be >= 0, got %d", c.Import.RetentionDays)
	}

	if c.Fetch.TimeoutSeconds < 0 {
		return errors.Newf("fetch.timeout_seconds must be >= 0, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Fetch.RequestsPerMinute < 0 {
		return errors.Newf("fetch.requests_per_minute must be >= 0, got %d", c.Fetch.RequestsPerMinute)
	}

	seen := make(map[string]bool, len(c.Import.Sources))
	for i, src := range c.Import.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return errors.Newf("import.sources[%d].name cannot be empty", i)
		}
		if seen[src.Name] {
			return errors.Newf("import.sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = true

		u, err := url.Parse(src.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Newf("import.sources[%d] (%s): url must be an absolute http(s) URL, got %q", i, src.Name, src.URL)
		}
		if !knownFormats[src.Format] {
			return errors.Newf("import.sources[%d] (%s): unknown format %q", i, src.Name, src.Format)
		}
		if src.TimeoutSeconds < 0 {
			return errors.Newf("import.sources[%d] (%s): timeout_seconds must be >= 0", i, src.Name)
		}
	}

	return nil
}
