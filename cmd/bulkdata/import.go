package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkdata/internal/config"
	"github.com/JonMunkholm/bulkdata/internal/load"
	"github.com/JonMunkholm/bulkdata/internal/logging"
)

var importFlags struct {
	host, user, password, name string
	port                       int
	mode, driver, url, script  string
	tables                     string
}

var importCmd = &cobra.Command{
	Use:   "import BULK_DIR",
	Short: "Load fetched files into the database",
	Long: `Validates every .sql and .csv file in BULK_DIR, then loads them.

In shell mode (default) the loader script is run with BULK_DIR, BULK_DB_HOST,
BULK_DB_USER and BULK_DB_PASSWORD in its environment. In direct mode scripts
run first, then each CSV is copied into the table named after the file; every
file is its own transaction and the first failure stops the import.

Any invalid file aborts the import before anything is loaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyImportFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return eris.Wrap(err, "config validation")
		}

		naming, err := parseTableNaming(importFlags.tables)
		if err != nil {
			return err
		}

		_, err = runImport(cmd.Context(), cfg, importOptions{BulkDir: args[0], Naming: naming})
		return err
	},
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importFlags.host, "db-host", "", "database host (overrides BULK_DB_HOST)")
	f.StringVar(&importFlags.user, "db-user", "", "database user (overrides BULK_DB_USER)")
	f.StringVar(&importFlags.password, "db-password", "", "database password (overrides BULK_DB_PASSWORD)")
	f.StringVar(&importFlags.name, "db-name", "courtlistener", "database name, or file path for sqlite")
	f.IntVar(&importFlags.port, "db-port", 5432, "database port")
	f.StringVar(&importFlags.url, "database-url", "", "full connection string; wins over the discrete flags")
	f.StringVar(&importFlags.mode, "mode", config.ModeShell, "import mode: shell or direct")
	f.StringVar(&importFlags.driver, "driver", config.DriverPostgres, "direct mode datastore: postgres or sqlite")
	f.StringVar(&importFlags.script, "script", "", "loader script for shell mode (overrides LOAD_SHELL_SCRIPT)")
	f.StringVar(&importFlags.tables, "tables", "stem", "table naming for CSV files: stem or dataset")
	rootCmd.AddCommand(importCmd)
}

func applyImportFlags(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if changed("db-host") {
		c.Database.Host = importFlags.host
	}
	if changed("db-user") {
		c.Database.User = importFlags.user
	}
	if changed("db-password") {
		c.Database.Password = importFlags.password
	}
	if changed("db-name") {
		c.Database.Name = importFlags.name
	}
	if changed("db-port") {
		c.Database.Port = importFlags.port
	}
	if changed("database-url") {
		c.Database.URL = importFlags.url
	}
	if changed("mode") {
		c.Load.Mode = importFlags.mode
	}
	if changed("driver") {
		c.Database.Driver = importFlags.driver
	}
	if changed("script") {
		c.Load.ShellScript = importFlags.script
	}
}

func parseTableNaming(s string) (load.TableNaming, error) {
	switch strings.ToLower(s) {
	case "", "stem":
		return load.TableFromStem, nil
	case "dataset":
		return load.TableFromDataset, nil
	default:
		return 0, fmt.Errorf("import validation failed:\n  - --tables (%q) must be stem or dataset", s)
	}
}

type importOptions struct {
	BulkDir string
	Naming  load.TableNaming
}

// runImport validates the whole directory and then loads it with the
// configured mode. Direct mode returns the per-file outcomes.
func runImport(ctx context.Context, c *config.Config, opts importOptions) ([]load.Outcome, error) {
	log := logging.WithFields(ctx, "bulk_dir", opts.BulkDir, "mode", c.Load.Mode)

	if err := c.ValidateImport(); err != nil {
		return nil, err
	}

	files, err := load.Discover(opts.BulkDir, opts.Naming)
	if err != nil {
		return nil, eris.Wrap(err, "discover files")
	}
	log.Info("files discovered", "count", len(files))

	if err := load.ValidateBatch(files); err != nil {
		log.Error("validation failed, nothing will be loaded", "error", err)
		return nil, err
	}

	if strings.EqualFold(c.Load.Mode, config.ModeShell) {
		loader := load.ShellLoader{Script: c.Load.ShellScript}
		err := loader.Run(ctx, load.ShellParams{
			BulkDir:  opts.BulkDir,
			Host:     c.Database.Host,
			User:     c.Database.User,
			Password: c.Database.Password,
		})
		if err != nil {
			return nil, eris.Wrap(err, "shell import")
		}
		return nil, nil
	}

	if len(files) == 0 {
		log.Warn("no .sql or .csv files to load")
		return nil, nil
	}

	db, err := load.Open(ctx, strings.ToLower(c.Database.Driver), c.Database.DSN())
	if err != nil {
		return nil, eris.Wrap(err, "open datastore")
	}
	defer db.Close()

	outcomes, applyErr := load.NewExecutor(db).Apply(ctx, files)

	l, err := openLedger(c)
	if err != nil {
		log.Warn("ledger unavailable", "error", err)
	} else if l != nil {
		defer l.Close()
		if err := l.RecordImports(logging.RunID(ctx), outcomes); err != nil {
			log.Warn("failed to record imports", "error", err)
		}
	}

	if applyErr != nil {
		return outcomes, eris.Wrap(applyErr, "direct import")
	}
	return outcomes, nil
}
