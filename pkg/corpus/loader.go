package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
)

type LoaderConfig struct {
	Extensions []string
	Splitter   SplitterConfig
	Fetcher    types.Fetcher
	Logger     *zap.Logger
	OnProgress func(source string, articles int)
}

// Loader resolves CLI inputs (files, directories, URLs) into raw articles.
type Loader struct {
	config   LoaderConfig
	splitter *Splitter
	logger   *zap.Logger
}

func NewLoader(config LoaderConfig) *Loader {
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".md", ".markdown", ".txt"}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Loader{
		config:   config,
		splitter: NewWithConfig(config.Splitter),
		logger:   config.Logger,
	}
}

func (l *Loader) Load(ctx context.Context, inputs []string) ([]models.RawArticle, error) {
	var articles []models.RawArticle

	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if isURL(input) {
			if l.config.Fetcher == nil {
				return nil, fmt.Errorf("cannot load %s: no fetcher configured", input)
			}
			fetched, err := l.config.Fetcher.Scrape(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", input, err)
			}
			l.progress(input, len(fetched))
			articles = append(articles, fetched...)
			continue
		}

		files, err := l.expand(input)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			loaded, err := l.LoadFile(path)
			if err != nil {
				return nil, err
			}
			articles = append(articles, loaded...)
		}
	}

	return articles, nil
}

func (l *Loader) LoadFile(path string) ([]models.RawArticle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	articles, err := l.splitter.WithSource(path).Split(f)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("split corpus file", zap.String("path", path), zap.Int("articles", len(articles)))
	l.progress(path, len(articles))
	return articles, nil
}

func (l *Loader) progress(source string, n int) {
	if l.config.OnProgress != nil {
		l.config.OnProgress(source, n)
	}
}

func (l *Loader) expand(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", input, err)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	var files []string
	err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != input && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if l.allowed(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", input, err)
	}

	sort.Strings(files)
	return files, nil
}

func (l *Loader) allowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range l.config.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}
