package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkdata/internal/catalog"
	"github.com/JonMunkholm/bulkdata/internal/config"
	"github.com/JonMunkholm/bulkdata/internal/logging"
	"github.com/JonMunkholm/bulkdata/internal/transfer"
)

var (
	fetchWorkers     int
	fetchMaxAttempts int
	fetchLinksFile   string
	fetchFailOnError bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch OUTPUT_DIR",
	Short: "Download the latest file of every dataset",
	Long: `Lists the bulk-data bucket (or --links-file), keeps the newest dated file per
dataset, and downloads each one into OUTPUT_DIR. Compressed files are expanded.
Files whose expanded form already exists are skipped.

Individual failures are logged and do not stop other downloads. The command
exits 0 unless --fail-on-error is set and a download failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("workers") {
			cfg.Fetch.Workers = fetchWorkers
		}
		if cmd.Flags().Changed("max-attempts") {
			cfg.Fetch.MaxAttempts = fetchMaxAttempts
		}
		if err := cfg.Validate(); err != nil {
			return eris.Wrap(err, "config validation")
		}

		outcomes, err := runFetch(cmd.Context(), cfg, fetchOptions{
			OutputDir: args[0],
			LinksFile: fetchLinksFile,
		})
		if err != nil {
			return err
		}

		if failed := transfer.Failures(outcomes); fetchFailOnError && len(failed) > 0 {
			return fmt.Errorf("%w: %s: %w", errFailedTransfers, failed[0].Task.Ref.Name, failed[0].Err)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", transfer.DefaultWorkers, "parallel downloads (overrides FETCH_WORKERS)")
	fetchCmd.Flags().IntVar(&fetchMaxAttempts, "max-attempts", transfer.DefaultMaxAttempts, "attempts per file (overrides FETCH_MAX_ATTEMPTS)")
	fetchCmd.Flags().StringVar(&fetchLinksFile, "links-file", "", "read URLs from this file instead of listing the bucket")
	fetchCmd.Flags().BoolVar(&fetchFailOnError, "fail-on-error", false, "exit non-zero when any download fails")
	rootCmd.AddCommand(fetchCmd)
}

type fetchOptions struct {
	OutputDir string
	LinksFile string

	// Lister replaces both the bucket listing and LinksFile when set.
	Lister catalog.Lister
}

func listerFor(c *config.Config, opts fetchOptions) (catalog.Lister, error) {
	if opts.Lister != nil {
		return opts.Lister, nil
	}
	if opts.LinksFile != "" {
		return catalog.FileLister{Path: opts.LinksFile, Marker: c.Catalog.Prefix}, nil
	}
	return catalog.NewS3Lister(c.Catalog.Bucket, c.Catalog.Region, c.Catalog.Prefix)
}

// runFetch lists, resolves and downloads. Per-file failures are reported in
// the outcomes, not as an error.
func runFetch(ctx context.Context, c *config.Config, opts fetchOptions) ([]transfer.Outcome, error) {
	log := logging.FromContext(ctx)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "create output directory")
	}

	lister, err := listerFor(c, opts)
	if err != nil {
		return nil, eris.Wrap(err, "create lister")
	}
	links, err := lister.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list catalog")
	}

	refs := catalog.Resolver{DeltaSuffix: c.Catalog.DeltaSuffix}.Resolve(links)
	log.Info("catalog resolved", "links", len(links), "datasets", len(refs))

	tasks := make([]transfer.Task, len(refs))
	for i, ref := range refs {
		tasks[i] = transfer.Task{Ref: ref, DestDir: opts.OutputDir}
	}

	worker := transfer.NewWorker(transfer.Config{
		MaxAttempts:   c.Fetch.MaxAttempts,
		BackoffBase:   c.Fetch.BackoffBase,
		ProbeTimeout:  c.Fetch.ProbeTimeout,
		StreamTimeout: c.Fetch.StreamTimeout,
	})
	outcomes := transfer.NewOrchestrator(worker, c.Fetch.Workers).Run(ctx, tasks)

	for _, o := range transfer.Failures(outcomes) {
		log.Warn("download failed", "file", o.Task.Ref.Name, "attempts", o.Attempts, "error", o.Err)
	}

	l, err := openLedger(c)
	if err != nil {
		log.Warn("ledger unavailable", "error", err)
	} else if l != nil {
		defer l.Close()
		if err := l.RecordTransfers(logging.RunID(ctx), outcomes); err != nil {
			log.Warn("failed to record transfers", "error", err)
		}
	}

	return outcomes, nil
}
