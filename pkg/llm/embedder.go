package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	BatchSize int
	VectorDim int
	Logger    *zap.Logger
}

// Embedder turns chunk text into vectors through an Ollama model.
type Embedder struct {
	config EmbedderConfig
	client embeddings.Embedder
	logger *zap.Logger
}

func applyEmbedderDefaults(config *EmbedderConfig) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	applyEmbedderDefaults(&config)

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	client, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return NewEmbedderWithClient(config, client), nil
}

// NewEmbedderWithClient wraps an existing langchaingo embedder.
func NewEmbedderWithClient(config EmbedderConfig, client embeddings.Embedder) *Embedder {
	applyEmbedderDefaults(&config)
	return &Embedder{
		config: config,
		client: client,
		logger: config.Logger,
	}
}

// EmbedChunks fills the Embedding field of every chunk in place.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) error {
	for start := 0; start < len(chunks); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.EmbeddingText())
		}

		vectors, err := e.client.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}

		for i, vector := range vectors {
			if err := e.checkDim(vector); err != nil {
				return fmt.Errorf("chunk %s: %w", chunks[start+i].ID, err)
			}
			chunks[start+i].Embedding = vector
		}
		e.logger.Debug("embedded batch", zap.Int("from", start), zap.Int("to", end))
	}
	return nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	if err := e.checkDim(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (e *Embedder) checkDim(vector []float32) error {
	if e.config.VectorDim > 0 && len(vector) != e.config.VectorDim {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), e.config.VectorDim)
	}
	return nil
}
