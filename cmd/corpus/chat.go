package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/llm"
	"github.com/xhad/corpus/pkg/pipeline"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

func newChatCmd() *cobra.Command {
	var memory, stream bool

	cmd := &cobra.Command{
		Use:   "chat [files|dirs|urls...]",
		Short: "Ask questions about the corpus interactively",
		Long: `Start an interactive session answered from the indexed corpus.
Any inputs given are ingested first. A URL typed into the prompt is
crawled and ingested before the rest of the line is answered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("stream") {
				cfg.UI.Streaming = stream
			}
			ctx := cmd.Context()

			chatEngine, err := newChatEngine()
			if err != nil {
				return err
			}

			bars := &stageBars{}
			p, closeFn, err := newPipeline(ctx, true, memory, bars.onEvent)
			if err != nil {
				return err
			}
			defer closeFn()

			if len(args) > 0 {
				raws, err := loadInputs(ctx, args)
				if err != nil {
					return err
				}
				if err := ingest(ctx, p, bars, raws); err != nil {
					return err
				}
			}

			return chatLoop(ctx, p, chatEngine, bars)
		},
	}

	cmd.Flags().BoolVar(&memory, "memory", false, "Use an in-memory store instead of Postgres")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream answers as they are generated (default from config)")
	return cmd
}

func chatLoop(ctx context.Context, p *pipeline.Pipeline, chatEngine *llm.ChatEngine, bars *stageBars) error {
	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	color.Cyan("Corpus chat. Paste a URL to add it, type 'exit' to quit.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			return nil
		}
		if query == "" {
			continue
		}

		// Check if input contains a URL
		if url := urlRegex.FindString(query); url != "" {
			color.Blue("\nDetected URL: %s", url)
			if err := ingestURL(ctx, p, bars, url); err != nil {
				color.Red("Failed to ingest %s: %v", url, err)
				continue
			}
			query = strings.TrimSpace(strings.Replace(query, url, "", 1))
			if query == "" {
				continue
			}
		}

		querySpinner := getSpinner(" Searching corpus...")
		hits, err := p.Search(ctx, query, cfg.Database.SearchLimit)
		querySpinner.Finish()
		if err != nil {
			color.Red("Error querying articles: %v", err)
			continue
		}

		fmt.Print("\n")
		if cfg.UI.Streaming {
			assistantPrompt("Assistant: ")
			if err := streamAnswer(ctx, chatEngine, query, hits); err != nil {
				color.Red("\nError: %v", err)
				continue
			}
		} else {
			responseSpinner := getSpinner(" Generating response...")
			response, err := chatEngine.Chat(ctx, query, hits)
			responseSpinner.Finish()
			if err != nil {
				color.Red("Error: %v", err)
				continue
			}
			assistantPrompt("Assistant: %s\n", response)
		}

		if sources := llm.FormatSources(hits); sources != "" {
			color.HiBlack(sources)
		}
	}
}

func streamAnswer(ctx context.Context, chatEngine *llm.ChatEngine, query string, hits []models.SearchResult) error {
	responseSpinner := getSpinner(" Thinking...")
	firstChunk := true

	chunks, errs := chatEngine.ChatStream(ctx, query, hits)
	for chunk := range chunks {
		// Clear spinner on first chunk
		if firstChunk {
			responseSpinner.Finish()
			firstChunk = false
			fmt.Print("\n")
		}
		fmt.Print(chunk)
	}
	if firstChunk {
		responseSpinner.Finish()
	}
	fmt.Print("\n")

	return <-errs
}

// ingestURL crawls url and ingests what it finds.
func ingestURL(ctx context.Context, p *pipeline.Pipeline, bars *stageBars, url string) error {
	scrapingBar := getProgressBar(-1, " Scraping pages...")
	start := time.Now()
	pages := 0

	s, err := newScraper(func(string) {
		pages++
		scrapingBar.Add(1)
		scrapingBar.Describe(color.BlueString(
			" Scraping pages (%.1f pages/sec)", float64(pages)/time.Since(start).Seconds()))
	})
	if err != nil {
		return err
	}

	raws, err := s.Scrape(ctx, url)
	scrapingBar.Finish()
	if err != nil {
		return err
	}
	color.Green("\n✓ Scraped %d articles from %d pages", len(raws), pages)

	return ingest(ctx, p, bars, raws)
}

func ingest(ctx context.Context, p *pipeline.Pipeline, bars *stageBars, raws []models.RawArticle) error {
	report, err := p.Ingest(ctx, raws)
	bars.finish()
	for _, failure := range report.Failed {
		color.Red("✗ %v", failure)
	}
	if err != nil {
		return err
	}
	color.Green("✓ Stored %d articles (%d unchanged)", report.Stored, report.Skipped)
	return nil
}
