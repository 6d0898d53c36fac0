package models

import (
	"strings"
	"time"
)

// RawArticle is one separator-delimited segment of a corpus, before any
// structuring.
type RawArticle struct {
	Index  int
	Label  string
	Source string
	Body   []byte
}

type Article struct {
	ID          string
	Slug        string
	Index       int
	Label       string
	Source      string
	URL         string
	Title       string
	Summary     string
	Author      string
	Tags        []string
	Date        time.Time
	Draft       bool
	Markdown    string
	Content     string
	HTML        string
	Sections    []Section
	WordCount   int
	ReadingTime time.Duration
	Hash        uint64
	Metadata    map[string]interface{}
}

// Section is the text between two headings. Level 0 is the lead text that
// precedes the first heading.
type Section struct {
	Heading    string
	Level      int
	Breadcrumb []string
	Text       string
}

type Chunk struct {
	ID         string
	ArticleID  string
	Index      int
	Breadcrumb []string
	Text       string
	Embedding  []float32
}

// EmbeddingText prefixes the chunk with its heading path so the vector
// carries the section context.
func (c Chunk) EmbeddingText() string {
	if len(c.Breadcrumb) == 0 {
		return c.Text
	}
	return strings.Join(c.Breadcrumb, " > ") + "\n\n" + c.Text
}

type ProcessedArticle struct {
	Article
	Chunks []Chunk
}

type SearchResult struct {
	Chunk
	ArticleSlug  string
	ArticleTitle string
	URL          string
	Distance     float32
}
