package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		memory        bool
		workers       int
		skipUnchanged bool
		includeDrafts bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [files|dirs|urls...]",
		Short: "Structure, embed and store corpus articles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("workers") {
				cfg.Pipeline.Workers = workers
			}
			if flags.Changed("skip-unchanged") {
				cfg.Pipeline.SkipUnchanged = skipUnchanged
			}
			if flags.Changed("include-drafts") {
				cfg.Pipeline.IncludeDrafts = includeDrafts
			}

			raws, err := loadInputs(cmd.Context(), args)
			if err != nil {
				return err
			}

			bars := &stageBars{}
			p, closeFn, err := newPipeline(cmd.Context(), true, memory, bars.onEvent)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := p.Ingest(cmd.Context(), raws)
			bars.finish()
			for _, failure := range report.Failed {
				color.Red("✗ %v", failure)
			}
			if err != nil {
				return err
			}

			color.Green("✓ Stored %d articles (%d chunks) in %s", report.Stored, report.Chunks, report.Duration.Round(time.Millisecond))
			if report.Skipped > 0 {
				color.Yellow("  %d unchanged articles skipped", report.Skipped)
			}
			if report.Drafts > 0 {
				color.Yellow("  %d drafts left out", report.Drafts)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&memory, "memory", false, "Use an in-memory store instead of Postgres")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Articles embedded concurrently")
	cmd.Flags().BoolVar(&skipUnchanged, "skip-unchanged", false, "Skip articles whose content hash is already stored")
	cmd.Flags().BoolVar(&includeDrafts, "include-drafts", false, "Keep articles marked draft")
	return cmd
}
