// Package config defines process configuration and its loading.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// DBPath is the warehouse file.
	DBPath string `koanf:"db_path"`
	// LockTimeoutMS bounds the wait for the run lock. Zero fails at once.
	LockTimeoutMS int `koanf:"lock_timeout_ms"`
	// BusyTimeoutMS is SQLite's busy timeout for readers racing a run.
	BusyTimeoutMS int `koanf:"busy_timeout_ms"`

	// CanonicalTimezone is the warehouse zone used for time buckets.
	CanonicalTimezone string `koanf:"canonical_timezone"`
	// SourceTimezone interprets source timestamps that carry no offset.
	SourceTimezone string `koanf:"source_timezone"`

	SourceURL        string `koanf:"source_url"`
	SourceAPIKey     string `koanf:"source_api_key"`
	SourceTable      string `koanf:"source_table"`
	SourcePageSize   int    `koanf:"source_page_size"`
	SourceTimeoutMS  int    `koanf:"source_timeout_ms"`
	SourceMaxRetries int    `koanf:"source_max_retries"`

	// Schedule is a cron spec for serve mode. Empty disables scheduled runs.
	Schedule string `koanf:"schedule"`
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// QueueSize bounds pending run requests.
	QueueSize int `koanf:"queue_size"`

	// DownloadsTolerance is how far downloads may exceed uploads in a KPI
	// row before the quality gate flags it.
	DownloadsTolerance int64 `koanf:"downloads_tolerance"`
	// FutureSkewMinutes is the clock skew allowed for future-dated facts.
	FutureSkewMinutes int `koanf:"future_skew_minutes"`

	// ClickHouse replica. Disabled when ClickHouseAddr is empty.
	ClickHouseAddr     string `koanf:"clickhouse_addr"`
	ClickHouseDatabase string `koanf:"clickhouse_database"`
	ClickHouseUser     string `koanf:"clickhouse_user"`
	ClickHousePassword string `koanf:"clickhouse_password"`
	ClickHouseTable    string `koanf:"clickhouse_table"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		DBPath:            "starkpi.db",
		LockTimeoutMS:     30_000,
		BusyTimeoutMS:     5_000,
		CanonicalTimezone: "UTC",
		SourceTimezone:    "UTC",
		SourceTable:       "analytics_events",
		SourcePageSize:    1000,
		SourceTimeoutMS:   30_000,
		SourceMaxRetries:  3,
		Addr:              ":9080",
		QueueSize:         16,
		FutureSkewMinutes: 5,
		ClickHouseTable:   "daily_kpis",
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DBPath) == "" {
		problems = append(problems, "db_path must not be empty")
	}
	if c.LockTimeoutMS < 0 {
		problems = append(problems, "lock_timeout_ms must not be negative")
	}
	if c.BusyTimeoutMS < 0 {
		problems = append(problems, "busy_timeout_ms must not be negative")
	}
	if _, err := time.LoadLocation(c.CanonicalTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("canonical_timezone: %v", err))
	}
	if _, err := time.LoadLocation(c.SourceTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("source_timezone: %v", err))
	}
	if c.SourcePageSize <= 0 {
		problems = append(problems, "source_page_size must be positive")
	}
	if c.SourceMaxRetries < 0 {
		problems = append(problems, "source_max_retries must not be negative")
	}
	if c.QueueSize <= 0 {
		problems = append(problems, "queue_size must be positive")
	}
	if c.DownloadsTolerance < 0 {
		problems = append(problems, "downloads_tolerance must not be negative")
	}
	if c.FutureSkewMinutes < 0 {
		problems = append(problems, "future_skew_minutes must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("schedule: %v", err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LockTimeout returns LockTimeoutMS as a duration.
func (c *Config) LockTimeout() time.Duration { return ms(c.LockTimeoutMS) }

// BusyTimeout returns BusyTimeoutMS as a duration.
func (c *Config) BusyTimeout() time.Duration { return ms(c.BusyTimeoutMS) }

// SourceTimeout returns SourceTimeoutMS as a duration.
func (c *Config) SourceTimeout() time.Duration { return ms(c.SourceTimeoutMS) }

// FutureSkew returns FutureSkewMinutes as a duration.
func (c *Config) FutureSkew() time.Duration { return time.Duration(c.FutureSkewMinutes) * time.Minute }

// CanonicalLocation loads the warehouse zone.
func (c *Config) CanonicalLocation() (*time.Location, error) {
	return loadLocation(c.CanonicalTimezone)
}

// SourceLocation loads the zone for offset-less source timestamps.
func (c *Config) SourceLocation() (*time.Location, error) {
	return loadLocation(c.SourceTimezone)
}

func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

// HasSource reports whether a remote source is configured.
func (c *Config) HasSource() bool { return c.SourceURL != "" }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
