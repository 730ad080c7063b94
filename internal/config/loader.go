package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Import modes.
const (
	ModeShell  = "shell"
	ModeDirect = "direct"
)

// Datastore drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads configuration with Read and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Read reads configuration from environment variables, layered over the YAML
// file at path when path is non-empty, and applies defaults for unset values.
// The result is not validated, so callers can apply overrides first.
func Read(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Fetch validation
	if c.Fetch.Workers <= 0 {
		errs = append(errs, fmt.Sprintf("FETCH_WORKERS (%d) must be positive", c.Fetch.Workers))
	}
	if c.Fetch.MaxAttempts <= 0 {
		errs = append(errs, fmt.Sprintf("FETCH_MAX_ATTEMPTS (%d) must be positive", c.Fetch.MaxAttempts))
	}
	if c.Fetch.BackoffBase < 0 {
		errs = append(errs, "FETCH_BACKOFF_BASE must be non-negative")
	}
	if c.Fetch.ProbeTimeout <= 0 {
		errs = append(errs, "FETCH_PROBE_TIMEOUT must be positive")
	}
	if c.Fetch.StreamTimeout <= 0 {
		errs = append(errs, "FETCH_STREAM_TIMEOUT must be positive")
	}

	// Catalog validation
	if c.Catalog.Bucket == "" {
		errs = append(errs, "CATALOG_BUCKET is required")
	}
	if c.Catalog.Region == "" {
		errs = append(errs, "CATALOG_REGION is required")
	}

	// Database validation
	validDrivers := map[string]bool{DriverPostgres: true, DriverSQLite: true}
	if !validDrivers[strings.ToLower(c.Database.Driver)] {
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, sqlite", c.Database.Driver))
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT (%d) must be 1-65535", c.Database.Port))
	}

	// Load validation
	validModes := map[string]bool{ModeShell: true, ModeDirect: true}
	if !validModes[strings.ToLower(c.Load.Mode)] {
		errs = append(errs, fmt.Sprintf("LOAD_MODE (%q) must be one of: shell, direct", c.Load.Mode))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateImport checks the settings an import run needs on top of Validate.
// The shell loader always needs host, user and password; a direct postgres
// import needs them unless DATABASE_URL is set.
func (c *Config) ValidateImport() error {
	var errs []string

	needCreds := strings.EqualFold(c.Load.Mode, ModeShell) ||
		(strings.EqualFold(c.Database.Driver, DriverPostgres) && c.Database.URL == "")

	if needCreds {
		if c.Database.Host == "" {
			errs = append(errs, "BULK_DB_HOST (--db-host) is required")
		}
		if c.Database.User == "" {
			errs = append(errs, "BULK_DB_USER (--db-user) is required")
		}
		if c.Database.Password == "" {
			errs = append(errs, "BULK_DB_PASSWORD (--db-password) is required")
		}
	}
	if strings.EqualFold(c.Load.Mode, ModeShell) && c.Load.ShellScript == "" {
		errs = append(errs, "LOAD_SHELL_SCRIPT is required in shell mode")
	}
	if strings.EqualFold(c.Database.Driver, DriverSQLite) && c.Database.Name == "" {
		errs = append(errs, "BULK_DB_NAME (--db-name) must name the sqlite file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("import validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DSN returns the connection string for the configured driver.
// For postgres it is DATABASE_URL when set, otherwise a URL assembled from the
// discrete fields; for sqlite it is the database file path.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if strings.EqualFold(d.Driver, DriverSQLite) {
		return d.Name
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	return u.String()
}

// String returns a safe string representation of the config for logging.
// Sensitive values like the database URL and password are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Fetch: {Workers: %d, MaxAttempts: %d, BackoffBase: %s}, ",
		c.Fetch.Workers, c.Fetch.MaxAttempts, c.Fetch.BackoffBase))
	b.WriteString(fmt.Sprintf("Catalog: {Bucket: %q, Region: %q, Prefix: %q}, ",
		c.Catalog.Bucket, c.Catalog.Region, c.Catalog.Prefix))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], Driver: %q, Host: %q, User: %q, Password: [MASKED], Name: %q}, ",
		c.Database.Driver, c.Database.Host, c.Database.User, c.Database.Name))
	b.WriteString(fmt.Sprintf("Load: {Mode: %q}, ", c.Load.Mode))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
