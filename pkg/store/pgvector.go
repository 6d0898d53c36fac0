package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
)

// ErrNotFound is returned when an article does not exist.
var ErrNotFound = errors.New("article not found")

type VectorStoreConfig struct {
	ConnString     string
	TablePrefix    string
	VectorDim      int
	SearchLimit    int
	SearchDistance float32
	Logger         *zap.Logger
}

type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	articles string
	chunks   string
	logger   *zap.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "corpus"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.SearchDistance == 0 {
		config.SearchDistance = 0.8
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config:   config,
		pool:     pool,
		articles: pgx.Identifier{config.TablePrefix + "_articles"}.Sanitize(),
		chunks:   pgx.Identifier{config.TablePrefix + "_chunks"}.Sanitize(),
		logger:   config.Logger,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createArticles := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			idx INTEGER NOT NULL,
			label TEXT,
			source TEXT,
			url TEXT,
			title TEXT NOT NULL,
			summary TEXT,
			author TEXT,
			tags TEXT[],
			published_at TIMESTAMPTZ,
			draft BOOLEAN NOT NULL DEFAULT FALSE,
			markdown TEXT,
			content TEXT,
			html TEXT,
			word_count INTEGER,
			reading_seconds INTEGER,
			hash BIGINT NOT NULL,
			metadata JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.articles)

	createChunks := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			article_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			breadcrumb TEXT[],
			content TEXT NOT NULL,
			embedding vector(%d)
		)`, vs.chunks, vs.articles, vs.config.VectorDim)

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		pgx.Identifier{vs.config.TablePrefix + "_chunks_embedding_idx"}.Sanitize(), vs.chunks)

	for _, stmt := range []string{createArticles, createChunks, createIndex} {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

// Store upserts each article and replaces its chunks in one transaction.
func (vs *VectorStore) Store(ctx context.Context, docs []models.ProcessedArticle) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	upsertArticle := fmt.Sprintf(`
		INSERT INTO %s (id, slug, idx, label, source, url, title, summary, author, tags,
			published_at, draft, markdown, content, html, word_count, reading_seconds, hash, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
		ON CONFLICT (id) DO UPDATE SET
			idx = EXCLUDED.idx,
			label = EXCLUDED.label,
			source = EXCLUDED.source,
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			author = EXCLUDED.author,
			tags = EXCLUDED.tags,
			published_at = EXCLUDED.published_at,
			draft = EXCLUDED.draft,
			markdown = EXCLUDED.markdown,
			content = EXCLUDED.content,
			html = EXCLUDED.html,
			word_count = EXCLUDED.word_count,
			reading_seconds = EXCLUDED.reading_seconds,
			hash = EXCLUDED.hash,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		vs.articles)

	deleteChunks := fmt.Sprintf(`DELETE FROM %s WHERE article_id = $1`, vs.chunks)
	insertChunk := fmt.Sprintf(`
		INSERT INTO %s (id, article_id, chunk_index, breadcrumb, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`, vs.chunks)

	for _, doc := range docs {
		var published *time.Time
		if !doc.Date.IsZero() {
			published = &doc.Date
		}

		_, err := tx.Exec(ctx, upsertArticle,
			doc.ID,
			doc.Slug,
			doc.Index,
			doc.Label,
			doc.Source,
			doc.URL,
			sanitizeUTF8(doc.Title),
			sanitizeUTF8(doc.Summary),
			doc.Author,
			doc.Tags,
			published,
			doc.Draft,
			sanitizeUTF8(doc.Markdown),
			sanitizeUTF8(doc.Content),
			sanitizeUTF8(doc.HTML),
			doc.WordCount,
			int(doc.ReadingTime.Seconds()),
			int64(doc.Hash),
			doc.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert article %s: %w", doc.Slug, err)
		}

		if _, err := tx.Exec(ctx, deleteChunks, doc.ID); err != nil {
			return fmt.Errorf("failed to clear chunks of %s: %w", doc.Slug, err)
		}

		batch := &pgx.Batch{}
		for _, chunk := range doc.Chunks {
			if len(chunk.Embedding) != vs.config.VectorDim {
				return fmt.Errorf("chunk %s has %d dimensions, table expects %d",
					chunk.ID, len(chunk.Embedding), vs.config.VectorDim)
			}
			batch.Queue(insertChunk,
				chunk.ID,
				doc.ID,
				chunk.Index,
				chunk.Breadcrumb,
				sanitizeUTF8(chunk.Text),
				pgvector.NewVector(chunk.Embedding),
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert chunks of %s: %w", doc.Slug, err)
			}
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Debug("stored articles", zap.Int("count", len(docs)))
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, queryEmbedding []float32, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = vs.config.SearchLimit
	}

	// Query similar chunks
	query := fmt.Sprintf(`
		SELECT c.id, c.article_id, c.chunk_index, c.breadcrumb, c.content,
			a.slug, a.title, COALESCE(a.url, ''), c.embedding <=> $1 AS distance
		FROM %s c
		JOIN %s a ON a.id = c.article_id
		WHERE c.embedding <=> $1 <= $3
		ORDER BY distance
		LIMIT $2`,
		vs.chunks, vs.articles)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), limit, vs.config.SearchDistance)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		var distance float64
		err := rows.Scan(
			&r.ID,
			&r.ArticleID,
			&r.Index,
			&r.Breadcrumb,
			&r.Text,
			&r.ArticleSlug,
			&r.ArticleTitle,
			&r.URL,
			&distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Distance = float32(distance)
		results = append(results, r)
	}

	return results, rows.Err()
}

func (vs *VectorStore) ArticleHash(ctx context.Context, id string) (uint64, bool, error) {
	var hash int64
	err := vs.pool.QueryRow(ctx, fmt.Sprintf(`SELECT hash FROM %s WHERE id = $1`, vs.articles), id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read article hash: %w", err)
	}
	return uint64(hash), true, nil
}

const articleColumns = `id, slug, idx, COALESCE(label, ''), COALESCE(source, ''), COALESCE(url, ''), title,
	COALESCE(summary, ''), COALESCE(author, ''), tags, published_at, draft, COALESCE(markdown, ''),
	COALESCE(content, ''), COALESCE(html, ''), COALESCE(word_count, 0), COALESCE(reading_seconds, 0), hash, metadata`

func scanArticle(row pgx.Row) (*models.Article, error) {
	var (
		a         models.Article
		published *time.Time
		seconds   int
		hash      int64
	)
	err := row.Scan(&a.ID, &a.Slug, &a.Index, &a.Label, &a.Source, &a.URL, &a.Title,
		&a.Summary, &a.Author, &a.Tags, &published, &a.Draft, &a.Markdown,
		&a.Content, &a.HTML, &a.WordCount, &seconds, &hash, &a.Metadata)
	if err != nil {
		return nil, err
	}
	if published != nil {
		a.Date = *published
	}
	a.ReadingTime = time.Duration(seconds) * time.Second
	a.Hash = uint64(hash)
	return &a, nil
}

func (vs *VectorStore) GetArticle(ctx context.Context, slug string) (*models.Article, error) {
	row := vs.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1`, articleColumns, vs.articles), slug)
	article, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read article: %w", err)
	}
	return article, nil
}

func (vs *VectorStore) ListArticles(ctx context.Context) ([]models.Article, error) {
	rows, err := vs.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY source, idx`, articleColumns, vs.articles))
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

func (vs *VectorStore) DeleteArticle(ctx context.Context, id string) error {
	tag, err := vs.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, vs.articles), id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid byte sequences, which Postgres rejects in TEXT.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
