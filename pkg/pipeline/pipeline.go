package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
	"github.com/xhad/corpus/pkg/markdown"
	"github.com/xhad/corpus/pkg/processor"
)

// Stages reported through OnProgress.
const (
	StageParse = "parse"
	StageChunk = "chunk"
	StageSkip  = "skip"
	StageEmbed = "embed"
	StageStore = "store"
)

var (
	ErrEmptyQuery    = errors.New("empty query")
	ErrNotConfigured = errors.New("pipeline has no embedder or store")
)

// Event describes progress on a single article.
type Event struct {
	Stage string
	Slug  string
	Done  int
	Total int
}

type PipelineConfig struct {
	Parser        markdown.ParserConfig
	Processor     types.Processor
	Embedder      types.Embedder
	Store         types.VectorStore
	Workers       int
	SkipUnchanged bool
	IncludeDrafts bool
	Logger        *zap.Logger
	// OnProgress is called serially, never concurrently.
	OnProgress func(Event)
}

// Failure records an article that could not be structured.
type Failure struct {
	Source string
	Index  int
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s #%d: %v", f.Source, f.Index, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

type Report struct {
	Parsed   int
	Drafts   int
	Chunks   int
	Stored   int
	Skipped  int
	Failed   []Failure
	Duration time.Duration
}

type Pipeline struct {
	config PipelineConfig
	logger *zap.Logger

	mu sync.Mutex
}

func NewWithConfig(config PipelineConfig) (*Pipeline, error) {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Parser.Logger == nil {
		config.Parser.Logger = config.Logger
	}
	if config.Processor == nil {
		proc, err := processor.NewWithConfig(processor.ProcessorConfig{})
		if err != nil {
			return nil, err
		}
		config.Processor = proc
	}

	return &Pipeline{
		config: config,
		logger: config.Logger,
	}, nil
}

// Structure parses and chunks raw articles without touching the embedder or
// the store. Articles that fail to parse are reported in the error slice and
// left out of the result.
func (p *Pipeline) Structure(raws []models.RawArticle) ([]models.ProcessedArticle, []error) {
	var report Report
	docs, err := p.structure(raws, &report)

	var errs []error
	for _, failure := range report.Failed {
		errs = append(errs, failure)
	}
	if err != nil {
		errs = append(errs, err)
	}
	return docs, errs
}

func (p *Pipeline) structure(raws []models.RawArticle, report *Report) ([]models.ProcessedArticle, error) {
	// Slugs are unique per run, so every run gets a fresh parser.
	parser := markdown.NewParser(p.config.Parser)

	articles := make([]models.Article, 0, len(raws))
	for i, raw := range raws {
		article, err := parser.Parse(raw)
		if err != nil {
			p.logger.Warn("skipping article",
				zap.String("source", raw.Source),
				zap.Int("index", raw.Index),
				zap.Error(err))
			report.Failed = append(report.Failed, Failure{Source: raw.Source, Index: raw.Index, Err: err})
			continue
		}
		if article.Draft && !p.config.IncludeDrafts {
			report.Drafts++
			continue
		}
		report.Parsed++
		p.progress(Event{Stage: StageParse, Slug: article.Slug, Done: i + 1, Total: len(raws)})
		articles = append(articles, article)
	}

	docs, err := p.config.Processor.Process(articles)
	if err != nil {
		return nil, fmt.Errorf("failed to process articles: %w", err)
	}
	for i, doc := range docs {
		report.Chunks += len(doc.Chunks)
		p.progress(Event{Stage: StageChunk, Slug: doc.Slug, Done: i + 1, Total: len(docs)})
	}
	return docs, nil
}

// Ingest structures raws, then embeds and stores them with at most Workers
// articles in flight. Per-article parse failures are collected in the
// report; embedder and store failures abort the run.
func (p *Pipeline) Ingest(ctx context.Context, raws []models.RawArticle) (Report, error) {
	start := time.Now()
	var report Report

	if p.config.Embedder == nil || p.config.Store == nil {
		return report, ErrNotConfigured
	}

	docs, err := p.structure(raws, &report)
	if err != nil {
		return report, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	total := len(docs)
	done := 0
	for _, doc := range docs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			skipped, err := p.ingestOne(gctx, doc)
			if err != nil {
				return fmt.Errorf("article %s: %w", doc.Slug, err)
			}

			p.mu.Lock()
			defer p.mu.Unlock()
			done++
			if skipped {
				report.Skipped++
				p.emit(Event{Stage: StageSkip, Slug: doc.Slug, Done: done, Total: total})
			} else {
				report.Stored++
				p.emit(Event{Stage: StageStore, Slug: doc.Slug, Done: done, Total: total})
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report.Duration = time.Since(start)

	p.logger.Info("ingest finished",
		zap.Int("parsed", report.Parsed),
		zap.Int("stored", report.Stored),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration),
		zap.Error(err))

	return report, err
}

func (p *Pipeline) ingestOne(ctx context.Context, doc models.ProcessedArticle) (bool, error) {
	if p.config.SkipUnchanged {
		hash, ok, err := p.config.Store.ArticleHash(ctx, doc.ID)
		if err != nil {
			return false, err
		}
		if ok && hash == doc.Hash {
			p.logger.Debug("article unchanged", zap.String("slug", doc.Slug))
			return true, nil
		}
	}

	if err := p.config.Embedder.EmbedChunks(ctx, doc.Chunks); err != nil {
		return false, err
	}
	p.progress(Event{Stage: StageEmbed, Slug: doc.Slug})

	if err := p.config.Store.Store(ctx, []models.ProcessedArticle{doc}); err != nil {
		return false, err
	}
	return false, nil
}

// Search embeds query and returns the closest chunks.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if p.config.Embedder == nil || p.config.Store == nil {
		return nil, ErrNotConfigured
	}

	embedding, err := p.config.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return p.config.Store.Query(ctx, embedding, limit)
}

// Store returns the store the pipeline writes to.
func (p *Pipeline) Store() types.VectorStore {
	return p.config.Store
}

func (p *Pipeline) progress(event Event) {
	if p.config.OnProgress == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.OnProgress(event)
}

// emit expects p.mu to be held.
func (p *Pipeline) emit(event Event) {
	if p.config.OnProgress != nil {
		p.config.OnProgress(event)
	}
}
