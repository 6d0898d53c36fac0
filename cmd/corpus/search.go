package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const snippetLength = 240

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the chunks closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = cfg.Database.SearchLimit
			}

			p, closeFn, err := newPipeline(cmd.Context(), true, false, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			hits, err := p.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				color.Yellow("No matching articles")
				return nil
			}

			for i, hit := range hits {
				fmt.Printf("%s %s %s\n",
					color.CyanString("[%d]", i+1),
					color.New(color.Bold).Sprint(hit.ArticleTitle),
					color.HiBlackString("(%s, %.3f)", hit.ArticleSlug, hit.Distance))
				if len(hit.Breadcrumb) > 0 {
					fmt.Printf("    %s\n", color.BlueString(strings.Join(hit.Breadcrumb, " > ")))
				}
				fmt.Printf("    %s\n\n", snippet(hit.Text))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	return cmd
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength]) + "…"
}
