package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
	"github.com/xhad/corpus/pkg/corpus"
	"github.com/xhad/corpus/pkg/llm"
	"github.com/xhad/corpus/pkg/markdown"
	"github.com/xhad/corpus/pkg/pipeline"
	"github.com/xhad/corpus/pkg/processor"
	"github.com/xhad/corpus/pkg/scraper"
	"github.com/xhad/corpus/pkg/store"
)

func splitterConfig() corpus.SplitterConfig {
	return corpus.SplitterConfig{
		Prefix:         cfg.Corpus.Prefix,
		Suffix:         cfg.Corpus.Suffix,
		MaxLabelLength: cfg.Corpus.MaxLabelLength,
		MaxArticleSize: cfg.Corpus.MaxArticleSize,
		KeepEmpty:      cfg.Corpus.KeepEmpty,
	}
}

func newScraper(onProgress func(url string)) (*scraper.Scraper, error) {
	return scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:          cfg.Scraper.MaxDepth,
		RateLimit:         cfg.Scraper.RateLimit,
		IgnorePatterns:    cfg.Scraper.IgnorePatterns,
		AllowedExtensions: cfg.Scraper.AllowedExtensions,
		Timeout:           cfg.Scraper.Timeout,
		UserAgent:         cfg.Scraper.UserAgent,
		Splitter:          splitterConfig(),
		Logger:            logger.Named("scraper"),
		OnProgress:        onProgress,
	})
}

// loadInputs resolves files, directories and URLs into raw articles.
func loadInputs(ctx context.Context, inputs []string) ([]models.RawArticle, error) {
	fetcher, err := newScraper(func(url string) {
		logger.Debug("scraping", zap.String("url", url))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	loader := corpus.NewLoader(corpus.LoaderConfig{
		Extensions: cfg.Corpus.Extensions,
		Splitter:   splitterConfig(),
		Fetcher:    fetcher,
		Logger:     logger.Named("loader"),
		OnProgress: func(source string, articles int) {
			color.Green("✓ %s: %d articles", source, articles)
		},
	})

	raws, err := loader.Load(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("no articles found in %v", inputs)
	}
	return raws, nil
}

func parserConfig() markdown.ParserConfig {
	return markdown.ParserConfig{
		Extensions:     cfg.Markdown.Extensions,
		Unsafe:         cfg.Markdown.Unsafe,
		HardWraps:      cfg.Markdown.HardWraps,
		WordsPerMinute: cfg.Markdown.WordsPerMinute,
		SummaryLength:  cfg.Markdown.SummaryLength,
		Logger:         logger.Named("markdown"),
	}
}

func newProcessor() (*processor.Processor, error) {
	return processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:       cfg.Processor.ChunkSize,
		ChunkOverlap:    cfg.Processor.ChunkOverlap,
		MinChunkLength:  cfg.Processor.MinChunkLength,
		RemoveStopwords: cfg.Processor.RemoveStopwords,
		CustomStopwords: cfg.Processor.CustomStopwords,
		Lowercase:       cfg.Processor.Lowercase,
	})
}

// openStore connects to pgvector, or keeps everything in memory when asked
// to or when no database is configured.
func openStore(ctx context.Context, memory bool) (types.VectorStore, error) {
	if memory || cfg.Database.URL == "" {
		if !memory {
			color.Yellow("No database configured; using an in-memory store")
		}
		return store.NewMemoryStore(cfg.Database.SearchLimit, cfg.Database.SearchDistance), nil
	}

	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString:     cfg.Database.URL,
		TablePrefix:    cfg.Database.TablePrefix,
		VectorDim:      cfg.Database.VectorDim,
		SearchLimit:    cfg.Database.SearchLimit,
		SearchDistance: cfg.Database.SearchDistance,
		Logger:         logger.Named("store"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	return vs, nil
}

func newEmbedder() (*llm.Embedder, error) {
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		BatchSize: cfg.Embedder.BatchSize,
		VectorDim: cfg.Database.VectorDim,
		Logger:    logger.Named("embedder"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return embedder, nil
}

func newChatEngine() (*llm.ChatEngine, error) {
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		BaseURL:        cfg.LLM.BaseURL,
		Temperature:    cfg.LLM.Temperature,
		SystemTemplate: cfg.LLM.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}
	return chatEngine, nil
}

// newPipeline builds a pipeline. With backend set it also opens the store
// and embedder; the returned func closes them.
func newPipeline(ctx context.Context, backend, memory bool, onProgress func(pipeline.Event)) (*pipeline.Pipeline, func(), error) {
	proc, err := newProcessor()
	if err != nil {
		return nil, nil, err
	}

	pc := pipeline.PipelineConfig{
		Parser:        parserConfig(),
		Processor:     proc,
		Workers:       cfg.Pipeline.Workers,
		SkipUnchanged: cfg.Pipeline.SkipUnchanged,
		IncludeDrafts: cfg.Pipeline.IncludeDrafts,
		Logger:        logger.Named("pipeline"),
		OnProgress:    onProgress,
	}

	closeFn := func() {}
	if backend {
		embedder, err := newEmbedder()
		if err != nil {
			return nil, nil, err
		}
		vs, err := openStore(ctx, memory)
		if err != nil {
			return nil, nil, err
		}
		pc.Embedder = embedder
		pc.Store = vs
		closeFn = vs.Close
	}

	p, err := pipeline.NewWithConfig(pc)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return p, closeFn, nil
}
