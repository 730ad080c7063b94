// Package config provides centralized configuration management for bulkdata.
// It loads configuration from environment variables (optionally layered over a
// YAML file) with sensible defaults and validates all settings up front so a
// misconfigured run fails before any network or database work starts.
package config

import "time"

// Config holds all application configuration.
// Every setting can be configured via environment variables; CLI flags
// override individual values before Validate is called.
type Config struct {
	Fetch    FetchConfig    `yaml:"fetch"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Database DatabaseConfig `yaml:"database"`
	Load     LoadConfig     `yaml:"load"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FetchConfig holds download settings.
type FetchConfig struct {
	// Workers is the number of parallel downloads (default: 4)
	Workers int `yaml:"workers" env:"FETCH_WORKERS" env-default:"4"`

	// MaxAttempts is the number of download attempts per file (default: 5)
	MaxAttempts int `yaml:"max_attempts" env:"FETCH_MAX_ATTEMPTS" env-default:"5"`

	// BackoffBase is multiplied by 2^attempt between attempts (default: 1s)
	BackoffBase time.Duration `yaml:"backoff_base" env:"FETCH_BACKOFF_BASE" env-default:"1s"`

	// ProbeTimeout bounds the HEAD request (default: 30s)
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"FETCH_PROBE_TIMEOUT" env-default:"30s"`

	// StreamTimeout bounds the wait for response headers of the body GET (default: 60s)
	StreamTimeout time.Duration `yaml:"stream_timeout" env:"FETCH_STREAM_TIMEOUT" env-default:"60s"`
}

// CatalogConfig describes where the bulk-data listing lives.
type CatalogConfig struct {
	Bucket      string `yaml:"bucket" env:"CATALOG_BUCKET" env-default:"com-courtlistener-storage"`
	Region      string `yaml:"region" env:"CATALOG_REGION" env-default:"us-west-2"`
	Prefix      string `yaml:"prefix" env:"CATALOG_PREFIX" env-default:"bulk-data/"`
	DeltaSuffix string `yaml:"delta_suffix" env:"CATALOG_DELTA_SUFFIX" env-default:".delta"`
}

// DatabaseConfig holds datastore connection settings for imports.
type DatabaseConfig struct {
	// URL is a full connection string; when set it wins over the discrete fields.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `yaml:"url" env:"DATABASE_URL,DB_URL"`

	// Driver selects the datastore: postgres or sqlite (default: postgres)
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`

	Host     string `yaml:"host" env:"BULK_DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"BULK_DB_USER"`
	Password string `yaml:"password" env:"BULK_DB_PASSWORD"`

	// Name is the database name, or the database file path for sqlite (default: courtlistener)
	Name string `yaml:"name" env:"BULK_DB_NAME" env-default:"courtlistener"`
}

// LoadConfig holds import settings.
type LoadConfig struct {
	// Mode is shell (delegate to the loader script) or direct (default: shell)
	Mode string `yaml:"mode" env:"LOAD_MODE" env-default:"shell"`

	// ShellScript is the loader script run in shell mode
	ShellScript string `yaml:"shell_script" env:"LOAD_SHELL_SCRIPT" env-default:"bulk-data/load-bulk-data-2025-07-02.sh"`
}

// LedgerConfig controls the on-disk run history.
type LedgerConfig struct {
	// Path is the bbolt file; empty disables the ledger
	Path string `yaml:"path" env:"LEDGER_PATH"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}
