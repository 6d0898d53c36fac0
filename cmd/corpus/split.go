package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/corpus/internal/models"
)

type splitSummary struct {
	Index    int      `json:"index"`
	Label    string   `json:"label,omitempty"`
	Source   string   `json:"source"`
	Slug     string   `json:"slug"`
	Title    string   `json:"title"`
	Headings []string `json:"headings,omitempty"`
	Words    int      `json:"words"`
	Chunks   int      `json:"chunks"`
	Draft    bool     `json:"draft,omitempty"`
}

func newSplitCmd() *cobra.Command {
	var asJSON, includeDrafts bool

	cmd := &cobra.Command{
		Use:   "split [files|dirs|urls...]",
		Short: "Split corpora into articles and print their structure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("include-drafts") {
				cfg.Pipeline.IncludeDrafts = includeDrafts
			}

			raws, err := loadInputs(cmd.Context(), args)
			if err != nil {
				return err
			}

			p, closeFn, err := newPipeline(cmd.Context(), false, false, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			docs, errs := p.Structure(raws)
			for _, err := range errs {
				color.Red("✗ %v", err)
			}

			summaries := make([]splitSummary, 0, len(docs))
			for _, doc := range docs {
				summaries = append(summaries, summarize(doc))
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}

			for _, s := range summaries {
				title := color.CyanString(s.Title)
				if s.Draft {
					title += color.YellowString(" (draft)")
				}
				fmt.Printf("%4d  %s  %s\n", s.Index, title, color.HiBlackString(s.Slug))
				fmt.Printf("      %s · %d words · %d chunks\n", s.Source, s.Words, s.Chunks)
				if len(s.Headings) > 0 {
					fmt.Printf("      %s\n", strings.Join(s.Headings, " | "))
				}
			}
			color.Green("✓ %d articles from %d segments", len(docs), len(raws))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the structure as JSON")
	cmd.Flags().BoolVar(&includeDrafts, "include-drafts", false, "Keep articles marked draft")
	return cmd
}

func summarize(doc models.ProcessedArticle) splitSummary {
	s := splitSummary{
		Index:  doc.Index,
		Label:  doc.Label,
		Source: doc.Source,
		Slug:   doc.Slug,
		Title:  doc.Title,
		Words:  doc.WordCount,
		Chunks: len(doc.Chunks),
		Draft:  doc.Draft,
	}
	for _, section := range doc.Sections {
		if section.Heading != "" {
			s.Headings = append(s.Headings, section.Heading)
		}
	}
	return s
}
