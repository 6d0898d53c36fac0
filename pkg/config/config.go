package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

type EmbedderConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type DatabaseConfig struct {
	URL            string  `yaml:"url"`
	TablePrefix    string  `yaml:"table_prefix"`
	VectorDim      int     `yaml:"vector_dim"`
	SearchLimit    int     `yaml:"search_limit"`
	SearchDistance float32 `yaml:"search_distance"`
}

type ScraperConfig struct {
	MaxDepth          int           `yaml:"max_depth"`
	RateLimit         float64       `yaml:"rate_limit"`
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	IgnorePatterns    []string      `yaml:"ignore_patterns"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
}

type ProcessorConfig struct {
	ChunkSize       int      `yaml:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap"`
	MinChunkLength  int      `yaml:"min_chunk_length"`
	RemoveStopwords bool     `yaml:"remove_stopwords"`
	CustomStopwords []string `yaml:"custom_stopwords"`
	Lowercase       bool     `yaml:"lowercase"`
}

// CorpusConfig describes the separator grammar of corpus files.
type CorpusConfig struct {
	Prefix         string   `yaml:"prefix"`
	Suffix         string   `yaml:"suffix"`
	MaxLabelLength int      `yaml:"max_label_length"`
	MaxArticleSize int      `yaml:"max_article_size"`
	KeepEmpty      bool     `yaml:"keep_empty"`
	Extensions     []string `yaml:"extensions"`
}

type MarkdownConfig struct {
	Extensions     []string `yaml:"extensions"`
	Unsafe         bool     `yaml:"unsafe"`
	HardWraps      bool     `yaml:"hard_wraps"`
	WordsPerMinute int      `yaml:"words_per_minute"`
	SummaryLength  int      `yaml:"summary_length"`
}

type PipelineConfig struct {
	Workers       int  `yaml:"workers"`
	SkipUnchanged bool `yaml:"skip_unchanged"`
	IncludeDrafts bool `yaml:"include_drafts"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type ExportConfig struct {
	Dir       string `yaml:"dir"`
	SiteTitle string `yaml:"site_title"`
	BaseURL   string `yaml:"base_url"` // enables sitemap.xml
	SkipHTML  bool   `yaml:"skip_html"`
}

// Terminal themes for progress output. ThemePlain also turns color off.
const (
	ThemeDefault = "default"
	ThemeASCII   = "ascii"
	ThemePlain   = "plain"
)

type UIConfig struct {
	Streaming bool   `yaml:"streaming"`
	Theme     string `yaml:"theme"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Database  DatabaseConfig  `yaml:"database"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Processor ProcessorConfig `yaml:"processor"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Markdown  MarkdownConfig  `yaml:"markdown"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Server    ServerConfig    `yaml:"server"`
	Export    ExportConfig    `yaml:"export"`
	UI        UIConfig        `yaml:"ui"`
}

// SearchPaths lists the files LoadConfig tries when no path is given.
func SearchPaths() []string {
	return []string{
		"config.yaml",
		"config.yml",
		filepath.Join(os.Getenv("HOME"), ".config/corpus/config.yaml"),
		"/etc/corpus/config.yaml",
	}
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		for _, loc := range SearchPaths() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Database.TablePrefix == "" {
		config.Database.TablePrefix = "corpus"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}
	if config.Database.SearchDistance == 0 {
		config.Database.SearchDistance = 0.8
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", ".md", ".markdown", ".txt", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
		if config.Processor.ChunkOverlap == 0 {
			config.Processor.ChunkOverlap = 200
		}
	}
	if config.Processor.MinChunkLength == 0 {
		config.Processor.MinChunkLength = config.Processor.ChunkSize / 10
	}

	if config.Corpus.Prefix == "" {
		config.Corpus.Prefix = "<|RELATED_DOC_SEP-"
	}
	if config.Corpus.Suffix == "" {
		config.Corpus.Suffix = "|>"
	}
	if config.Corpus.MaxLabelLength == 0 {
		config.Corpus.MaxLabelLength = 128
	}
	if config.Corpus.MaxArticleSize == 0 {
		config.Corpus.MaxArticleSize = 8 << 20
	}
	if len(config.Corpus.Extensions) == 0 {
		config.Corpus.Extensions = []string{".md", ".markdown", ".txt"}
	}

	if config.Markdown.WordsPerMinute == 0 {
		config.Markdown.WordsPerMinute = 200
	}
	if config.Markdown.SummaryLength == 0 {
		config.Markdown.SummaryLength = 280
	}

	if config.Pipeline.Workers == 0 {
		config.Pipeline.Workers = 4
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}

	if config.Export.Dir == "" {
		config.Export.Dir = "site"
	}
	if config.Export.SiteTitle == "" {
		config.Export.SiteTitle = "Corpus"
	}

	if config.UI.Theme == "" {
		config.UI.Theme = ThemeDefault
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if addr := os.Getenv("CORPUS_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
}
