package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkdata/internal/ledger"
)

var (
	historyKind  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded fetch and import results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Ledger.Path == "" {
			return eris.New("config validation: no ledger configured (set LEDGER_PATH or --ledger)")
		}

		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer l.Close()

		kinds := ledger.Kinds
		if historyKind != "" {
			kinds = []ledger.Kind{ledger.Kind(historyKind)}
		}

		for _, k := range kinds {
			records, err := l.History(k, historyLimit)
			if err != nil {
				return eris.Wrapf(err, "read %s history", k)
			}
			printHistory(cmd.OutOrStdout(), k, records)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "transfers or imports (default: both)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "records per kind, newest first (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, kind ledger.Kind, records []ledger.Record) {
	fmt.Fprintf(w, "%s (%d)\n", kind, len(records))
	if len(records) == 0 {
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tRUN\tFILE\tSTATUS\tBYTES\tROWS\tDURATION\tERROR")
	for _, r := range records {
		runID := r.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.At.Local().Format(time.DateTime),
			runID,
			r.File,
			r.Status,
			r.Bytes,
			r.Rows,
			r.Duration.Round(time.Millisecond),
			r.Error,
		)
	}
	tw.Flush()
	fmt.Fprintln(w)
}
