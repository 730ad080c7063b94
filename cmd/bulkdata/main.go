// Command bulkdata fetches the latest bulk-data dumps and loads them into a
// database.
//
//	bulkdata fetch OUTPUT_DIR --workers 4
//	bulkdata import BULK_DIR --db-host H --db-user U --db-password P --mode direct
//	bulkdata history --kind transfers
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkdata/internal/config"
	"github.com/JonMunkholm/bulkdata/internal/errmsg"
	"github.com/JonMunkholm/bulkdata/internal/ledger"
	"github.com/JonMunkholm/bulkdata/internal/logging"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
	logFormat  string
	ledgerPath string
)

var rootCmd = &cobra.Command{
	Use:           "bulkdata",
	Short:         "Fetch and load bulk-data dumps",
	Long:          "Downloads the latest dated export of every bulk-data dataset, verifies and expands it, and loads it into PostgreSQL or SQLite.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := loadConfig(configPath, cmd.Flags().Changed)
		if err != nil {
			return err
		}
		cfg = loaded

		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

		runID := uuid.New().String()
		cmd.SetContext(logging.WithRunID(cmd.Context(), runID))

		slog.Debug("configuration loaded", "config", cfg.String(), "run_id", runID)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file (environment variables still apply)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "run history file (overrides LEDGER_PATH)")
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		report(err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration, applies the persistent flags that were
// set on the command line, then validates.
func loadConfig(path string, changed func(name string) bool) (*config.Config, error) {
	c, err := config.Read(path)
	if err != nil {
		return nil, err
	}

	if changed("log-level") {
		c.Logging.Level = logLevel
	}
	if changed("log-format") {
		c.Logging.Format = logFormat
	}
	if changed("ledger") {
		c.Ledger.Path = ledgerPath
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return c, nil
}

// report prints err for the operator: the mapped message when one matches,
// followed by the technical chain.
func report(err error) {
	if errmsg.IsKnown(err) {
		fmt.Fprintln(os.Stderr, "Error:", errmsg.FormatUserError(err))
		fmt.Fprintln(os.Stderr, "  cause:", err)
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	slog.Debug("command failed", "error", eris.ToString(err, true))
}

// openLedger returns nil when no ledger is configured.
func openLedger(c *config.Config) (*ledger.Ledger, error) {
	if c.Ledger.Path == "" {
		return nil, nil
	}
	l, err := ledger.Open(c.Ledger.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}
	return l, nil
}

// errFailedTransfers is returned by fetch --fail-on-error.
var errFailedTransfers = errors.New("one or more transfers failed")
