package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CORPUS_ADDR", "")
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedder:
  model: "mxbai-embed-large"

database:
  url: "postgres://localhost:5432/test"
  table_prefix: "essays"
  vector_dim: 1024
  search_distance: 0.5

scraper:
  max_depth: 5
  rate_limit: 1.5
  timeout: 5s
  ignore_patterns:
    - "/test/"
  allowed_extensions:
    - ".html"
    - "/"

processor:
  chunk_size: 500
  chunk_overlap: 100
  remove_stopwords: true

corpus:
  prefix: "<<SEP:"
  suffix: ">>"

pipeline:
  workers: 8
  skip_unchanged: true

server:
  addr: ":9090"

export:
  dir: "public"

ui:
  streaming: false
  theme: "ascii"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "mxbai-embed-large", config.Embedder.Model)
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, "essays", config.Database.TablePrefix)
	assert.Equal(t, 1024, config.Database.VectorDim)
	assert.Equal(t, float32(0.5), config.Database.SearchDistance)
	assert.Equal(t, 5, config.Scraper.MaxDepth)
	assert.Equal(t, 5*time.Second, config.Scraper.Timeout)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 100, config.Processor.ChunkOverlap)
	assert.Equal(t, 50, config.Processor.MinChunkLength)
	assert.Equal(t, "<<SEP:", config.Corpus.Prefix)
	assert.Equal(t, 128, config.Corpus.MaxLabelLength)
	assert.Equal(t, 8, config.Pipeline.Workers)
	assert.True(t, config.Pipeline.SkipUnchanged)
	assert.Equal(t, ":9090", config.Server.Addr)
	assert.Equal(t, "public", config.Export.Dir)
	assert.False(t, config.UI.Streaming)
	assert.Equal(t, ThemeASCII, config.UI.Theme)

	assert.Empty(t, config.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("llm: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "nomic-embed-text:latest", config.Embedder.Model)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 200, config.Processor.ChunkOverlap)
	assert.Equal(t, 100, config.Processor.MinChunkLength)
	assert.Equal(t, "<|RELATED_DOC_SEP-", config.Corpus.Prefix)
	assert.Equal(t, "|>", config.Corpus.Suffix)
	assert.Equal(t, 4, config.Pipeline.Workers)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Equal(t, "site", config.Export.Dir)
	assert.Equal(t, ThemeDefault, config.UI.Theme)
	assert.Empty(t, config.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://db:5432/corpus")
	t.Setenv("CORPUS_ADDR", "127.0.0.1:7000")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  base_url: http://file:11434\n"), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://db:5432/corpus", config.Database.URL)
	assert.Equal(t, "127.0.0.1:7000", config.Server.Addr)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "invalid LLM settings",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "not a url"
				c.LLM.MaxTokens = -1
				c.LLM.Temperature = 3
			},
			fields: []string{"llm.base_url", "llm.max_tokens", "llm.temperature"},
		},
		{
			name: "overlap not below chunk size",
			mutate: func(c *Config) {
				c.Processor.ChunkSize = 100
				c.Processor.ChunkOverlap = 100
				c.Processor.MinChunkLength = 10
			},
			fields: []string{"processor.chunk_overlap"},
		},
		{
			name: "bad database url",
			mutate: func(c *Config) {
				c.Database.URL = "mysql://localhost/db"
			},
			fields: []string{"database.url"},
		},
		{
			name: "bad extensions",
			mutate: func(c *Config) {
				c.Scraper.AllowedExtensions = []string{"html"}
				c.Corpus.Extensions = []string{"md"}
			},
			fields: []string{"scraper.allowed_extensions", "corpus.extensions"},
		},
		{
			name: "separator with newline",
			mutate: func(c *Config) {
				c.Corpus.Prefix = "<SEP\n"
			},
			fields: []string{"corpus.prefix"},
		},
		{
			name: "no workers",
			mutate: func(c *Config) {
				c.Pipeline.Workers = -1
			},
			fields: []string{"pipeline.workers"},
		},
		{
			name: "bad export base url",
			mutate: func(c *Config) {
				c.Export.BaseURL = "essays.example.com"
			},
			fields: []string{"export.base_url"},
		},
		{
			name: "unknown theme",
			mutate: func(c *Config) {
				c.UI.Theme = "dark"
			},
			fields: []string{"ui.theme"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)

			var fields []string
			for _, err := range c.Validate() {
				fields = append(fields, err.Field)
				assert.NotEmpty(t, err.Error())
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}
