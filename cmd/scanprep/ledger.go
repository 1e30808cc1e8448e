package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanprep/internal/db"
)

func (o *options) openLedgerForRead() (*db.DB, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return db.NewDB(cfg.GetLedgerDB())
}

func newRunsCmd(opts *options) *cobra.Command {
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the scan results of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledgerDB, err := opts.openLedgerForRead()
			if err != nil {
				return err
			}
			defer ledgerDB.Close()
			store := db.NewLedgerStore(ledgerDB)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				runs, err := store.ListRuns(limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RUN\tKIND\tSTARTED\tTOTAL\tOK\tSKIPPED\tEMPTY\tFAILED")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", r.RunID, r.Kind,
						time.Unix(0, r.StartedAtNs).Format(time.RFC3339),
						r.ScansTotal, r.ScansOK, r.ScansSkipped, r.ScansEmpty, r.ScansFailed)
				}
				return nil
			}

			results, err := store.ScanResults(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "SCAN\tSTATUS\tPOINTS\tINSTANCES\tBOXES\tDURATION\tERROR")
			for _, r := range results {
				if !all && r.Status != db.StatusFailed {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n", r.ScanName, r.Status,
					r.NumPoints, r.NumInstances, r.NumBoxes, r.Duration, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 for all)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "show every scan, not only failures")
	return cmd
}

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run ledger schema",
	}
	open := func() (*db.DB, error) {
		cfg, err := opts.load()
		if err != nil {
			return nil, err
		}
		return db.OpenDB(cfg.GetLedgerDB())
	}
	report := func(cmd *cobra.Command, d *db.DB) error {
		v, dirty, err := d.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %v)\n", v, dirty)
		return nil
	}
	step := func(use, short string, fn func(*db.DB) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open()
				if err != nil {
					return err
				}
				defer d.Close()
				if fn != nil {
					if err := fn(d); err != nil {
						return err
					}
				}
				return report(cmd, d)
			},
		}
	}
	cmd.AddCommand(
		step("up", "Apply all pending migrations", (*db.DB).MigrateUp),
		step("down", "Roll back the most recent migration", (*db.DB).MigrateDown),
		step("status", "Show the current schema version", nil),
	)
	return cmd
}
