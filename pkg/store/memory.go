package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xhad/corpus/internal/models"
)

// MemoryStore keeps articles and chunks in process. It ranks chunks by
// cosine distance like the pgvector store and is used when no database is
// configured.
type MemoryStore struct {
	mu          sync.RWMutex
	articles    map[string]models.ProcessedArticle
	maxDistance float32
	limit       int
}

func NewMemoryStore(limit int, maxDistance float32) *MemoryStore {
	if limit <= 0 {
		limit = 5
	}
	if maxDistance <= 0 {
		maxDistance = 0.8
	}
	return &MemoryStore{
		articles:    make(map[string]models.ProcessedArticle),
		maxDistance: maxDistance,
		limit:       limit,
	}
}

func (m *MemoryStore) Store(ctx context.Context, docs []models.ProcessedArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.articles[doc.ID] = doc
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, queryEmbedding []float32, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = m.limit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []models.SearchResult
	for _, doc := range m.articles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, chunk := range doc.Chunks {
			if len(chunk.Embedding) != len(queryEmbedding) {
				continue
			}
			distance := cosineDistance(queryEmbedding, chunk.Embedding)
			if distance > m.maxDistance {
				continue
			}
			results = append(results, models.SearchResult{
				Chunk:        chunk,
				ArticleSlug:  doc.Slug,
				ArticleTitle: doc.Title,
				URL:          doc.URL,
				Distance:     distance,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) ArticleHash(_ context.Context, id string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.articles[id]
	if !ok {
		return 0, false, nil
	}
	return doc.Hash, true, nil
}

func (m *MemoryStore) GetArticle(_ context.Context, slug string) (*models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.articles {
		if doc.Slug == slug {
			article := doc.Article
			return &article, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListArticles(_ context.Context) ([]models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	articles := make([]models.Article, 0, len(m.articles))
	for _, doc := range m.articles {
		articles = append(articles, doc.Article)
	}
	sort.Slice(articles, func(i, j int) bool {
		if articles[i].Source != articles[j].Source {
			return articles[i].Source < articles[j].Source
		}
		return articles[i].Index < articles[j].Index
	})
	return articles, nil
}

func (m *MemoryStore) DeleteArticle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.articles[id]; !ok {
		return ErrNotFound
	}
	delete(m.articles, id)
	return nil
}

func (m *MemoryStore) Close() {}

// cosineDistance matches pgvector's <=> operator: 1 - cosine similarity.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}
