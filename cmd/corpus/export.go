package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/corpus/pkg/export"
)

func newExportCmd() *cobra.Command {
	var (
		outDir   string
		baseURL  string
		title    string
		skipHTML bool
	)

	cmd := &cobra.Command{
		Use:   "export [files|dirs|urls...]",
		Short: "Write the structured corpus as a static site",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("out") {
				cfg.Export.Dir = outDir
			}
			if flags.Changed("base-url") {
				cfg.Export.BaseURL = baseURL
			}
			if flags.Changed("title") {
				cfg.Export.SiteTitle = title
			}
			if flags.Changed("skip-html") {
				cfg.Export.SkipHTML = skipHTML
			}

			raws, err := loadInputs(cmd.Context(), args)
			if err != nil {
				return err
			}

			bars := &stageBars{}
			p, closeFn, err := newPipeline(cmd.Context(), false, false, bars.onEvent)
			if err != nil {
				return err
			}
			defer closeFn()

			docs, errs := p.Structure(raws)
			bars.finish()
			for _, err := range errs {
				color.Red("✗ %v", err)
			}

			exporter := export.NewWithConfig(export.ExporterConfig{
				Dir:       cfg.Export.Dir,
				SiteTitle: cfg.Export.SiteTitle,
				BaseURL:   cfg.Export.BaseURL,
				SkipHTML:  cfg.Export.SkipHTML,
				Logger:    logger.Named("export"),
			})
			manifest, err := exporter.Export(cmd.Context(), docs)
			if err != nil {
				return err
			}

			color.Green("✓ Exported %d articles to %s", len(manifest.Articles), cfg.Export.Dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default from config)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public site URL; enables sitemap.xml")
	cmd.Flags().StringVar(&title, "title", "", "Site title")
	cmd.Flags().BoolVar(&skipHTML, "skip-html", false, "Only write markdown and index.json")
	return cmd
}
