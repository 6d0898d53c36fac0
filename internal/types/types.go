package types

import (
	"context"

	"github.com/xhad/corpus/internal/models"
)

// Core interfaces
type VectorStore interface {
	Store(ctx context.Context, docs []models.ProcessedArticle) error
	Query(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error)
	ArticleHash(ctx context.Context, id string) (uint64, bool, error)
	GetArticle(ctx context.Context, slug string) (*models.Article, error)
	ListArticles(ctx context.Context) ([]models.Article, error)
	DeleteArticle(ctx context.Context, id string) error
	Close()
}

type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []models.Chunk) error
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Processor interface {
	Process(docs []models.Article) ([]models.ProcessedArticle, error)
}

// Fetcher resolves a remote location into raw articles.
type Fetcher interface {
	Scrape(ctx context.Context, url string) ([]models.RawArticle, error)
}

// Chatter answers a question from retrieved chunks.
type Chatter interface {
	Chat(ctx context.Context, query string, hits []models.SearchResult) (string, error)
	ChatStream(ctx context.Context, query string, hits []models.SearchResult) (<-chan string, <-chan error)
}
