package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		add("llm.base_url", "Ollama base URL is required")
	} else if !validHTTPURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid Ollama base URL")
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 32768 {
		add("llm.max_tokens", "max_tokens must be between 1 and 32768")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Validate Embedder config
	if c.Embedder.BaseURL != "" && !validHTTPURL(c.Embedder.BaseURL) {
		add("embedder.base_url", "invalid Ollama base URL")
	}
	if c.Embedder.BatchSize < 1 {
		add("embedder.batch_size", "batch_size must be positive")
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url", "invalid database URL")
		}
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.SearchLimit < 1 {
		add("database.search_limit", "search_limit must be positive")
	}

	if c.Database.SearchDistance <= 0 || c.Database.SearchDistance > 2 {
		add("database.search_distance", "search_distance must be in (0, 2]")
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 1 {
		add("scraper.max_depth", "max_depth must be positive")
	}

	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	// Validate extensions format
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	if c.Processor.MinChunkLength < 0 || c.Processor.MinChunkLength > c.Processor.ChunkSize {
		add("processor.min_chunk_length", "min_chunk_length must be between 0 and chunk_size")
	}

	// Validate Corpus config
	if c.Corpus.Prefix == "" || c.Corpus.Suffix == "" {
		add("corpus.prefix", "separator prefix and suffix are required")
	}
	if strings.ContainsAny(c.Corpus.Prefix+c.Corpus.Suffix, "\r\n") {
		add("corpus.prefix", "separator must not contain line breaks")
	}
	if c.Corpus.MaxLabelLength < 1 {
		add("corpus.max_label_length", "max_label_length must be positive")
	}
	if c.Corpus.MaxArticleSize < 1 {
		add("corpus.max_article_size", "max_article_size must be positive")
	}
	for _, ext := range c.Corpus.Extensions {
		if !strings.HasPrefix(ext, ".") {
			add("corpus.extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	// Validate Markdown config
	if c.Markdown.WordsPerMinute < 1 {
		add("markdown.words_per_minute", "words_per_minute must be positive")
	}

	// Validate Pipeline config
	if c.Pipeline.Workers < 1 {
		add("pipeline.workers", "workers must be positive")
	}

	// Validate Server config
	if c.Server.Addr == "" {
		add("server.addr", "listen address is required")
	}

	if c.Export.Dir == "" {
		add("export.dir", "output directory is required")
	}
	if c.Export.BaseURL != "" && !validHTTPURL(c.Export.BaseURL) {
		add("export.base_url", "must be an http(s) URL")
	}

	switch c.UI.Theme {
	case ThemeDefault, ThemeASCII, ThemePlain:
	default:
		add("ui.theme", fmt.Sprintf("unknown theme %q (want default, ascii or plain)", c.UI.Theme))
	}

	return errors
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
