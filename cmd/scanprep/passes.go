package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/scan/pipeline"
)

func newExportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export labeled point clouds for every scan in the train split",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			fsys := fsutil.OSFileSystem{}
			e, err := pipeline.NewExporter(fsys, cfg)
			if err != nil {
				return err
			}

			names := opts.scans
			if len(names) == 0 {
				if names, err = pipeline.ReadSplit(fsys, cfg.GetTrainSplitFile()); err != nil {
					return err
				}
			}

			b, closeLedger, err := opts.batch(cfg)
			defer closeLedger()
			if err != nil {
				return err
			}
			sum, err := e.Run(cmd.Context(), b, names)
			if err != nil {
				return err
			}
			return reportSummary(cmd, sum)
		},
	}
}

func newNormalsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "normals",
		Short: "Compute oriented normals for exported scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			p, err := pipeline.NewNormalsPass(fsutil.OSFileSystem{}, cfg)
			if err != nil {
				return err
			}

			names := opts.scans
			if len(names) == 0 {
				if names, err = p.SelectScans(); err != nil {
					return err
				}
			}

			b, closeLedger, err := opts.batch(cfg)
			defer closeLedger()
			if err != nil {
				return err
			}
			sum, err := p.Run(cmd.Context(), b, names)
			if err != nil {
				return err
			}
			return reportSummary(cmd, sum)
		},
	}
}
