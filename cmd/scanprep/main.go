// Command scanprep converts ScanNet scans into labeled point clouds and
// computes per-point normals for them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanprep/internal/config"
	"github.com/banshee-data/scanprep/internal/db"
	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/monitoring"
	"github.com/banshee-data/scanprep/internal/scan/pipeline"
	"github.com/banshee-data/scanprep/internal/version"
)

type options struct {
	configPath string
	workers    int
	scans      []string
	ledgerPath string
	noLedger   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "scanprep",
		Short:         "Prepare ScanNet scans for 3D detection training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "scannet_config.yml", "config file (.yml, .yaml or .json)")
	root.PersistentFlags().IntVarP(&opts.workers, "workers", "w", 0, "scans processed concurrently (overrides config)")
	root.PersistentFlags().StringSliceVar(&opts.scans, "scan", nil, "process only these scans instead of the split file")
	root.PersistentFlags().StringVar(&opts.ledgerPath, "ledger", "", "run ledger database (overrides config)")
	root.PersistentFlags().BoolVar(&opts.noLedger, "no-ledger", false, "do not record the run")

	root.AddCommand(
		newExportCmd(opts),
		newNormalsCmd(opts),
		newRunsCmd(opts),
		newMigrateCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scanprep: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(fsutil.OSFileSystem{}, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.workers > 0 {
		cfg.Workers = &o.workers
	}
	if o.ledgerPath != "" {
		cfg.LedgerDB = &o.ledgerPath
	}
	return cfg, cfg.Validate()
}

// openLedger returns nil, nil when the ledger is disabled.
func (o *options) openLedger(cfg *config.Config) (*db.DB, error) {
	if o.noLedger {
		return nil, nil
	}
	return db.NewDB(cfg.GetLedgerDB())
}

// batch builds the batch driver, opening the ledger if enabled. The
// returned close function is always non-nil.
func (o *options) batch(cfg *config.Config) (*pipeline.Batch, func(), error) {
	b := &pipeline.Batch{Workers: cfg.GetWorkers(), ConfigPath: o.configPath}
	ledgerDB, err := o.openLedger(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	if ledgerDB == nil {
		return b, func() {}, nil
	}
	b.Ledger = db.NewLedgerStore(ledgerDB)
	return b, func() {
		if err := ledgerDB.Close(); err != nil {
			monitoring.Logf("close ledger: %v", err)
		}
	}, nil
}

func reportSummary(cmd *cobra.Command, sum *pipeline.Summary) error {
	out := cmd.OutOrStdout()
	if sum.RunID != "" {
		fmt.Fprintf(out, "run %s\n", sum.RunID)
	}
	fmt.Fprintf(out, "%d scans: %d ok, %d skipped, %d empty, %d failed\n",
		sum.Total, sum.OK, sum.Skipped, sum.Empty, sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d scans failed", sum.Failed)
	}
	return nil
}
