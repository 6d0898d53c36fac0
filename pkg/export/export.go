package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xhad/corpus/internal/models"
)

const (
	IndexFile   = "index.json"
	SitemapFile = "sitemap.xml"
)

type ExporterConfig struct {
	Dir       string
	SiteTitle string
	// BaseURL enables sitemap.xml when set.
	BaseURL  string
	SkipHTML bool
	Logger   *zap.Logger
	// Now is used for the manifest timestamp; defaults to time.Now.
	Now func() time.Time
}

// Manifest is the search index written to index.json.
type Manifest struct {
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generated_at"`
	Articles    []ManifestEntry `json:"articles"`
}

type ManifestEntry struct {
	ID             string     `json:"id"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary,omitempty"`
	Author         string     `json:"author,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Date           *time.Time `json:"date,omitempty"`
	WordCount      int        `json:"word_count"`
	ReadingMinutes int        `json:"reading_minutes"`
	Headings       []string   `json:"headings,omitempty"`
	Chunks         int        `json:"chunks"`
	Source         string     `json:"source,omitempty"`
	URL            string     `json:"url,omitempty"`
	Markdown       string     `json:"markdown"`
	HTML           string     `json:"html,omitempty"`
}

// Exporter writes structured articles as a static documentation site.
type Exporter struct {
	config ExporterConfig
	logger *zap.Logger
}

func NewWithConfig(config ExporterConfig) *Exporter {
	if config.Dir == "" {
		config.Dir = "site"
	}
	if config.SiteTitle == "" {
		config.SiteTitle = "Corpus"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Exporter{config: config, logger: config.Logger}
}

// Export writes <slug>.md and <slug>.html for every article plus index.json
// and index.html. Existing files are overwritten.
func (e *Exporter) Export(ctx context.Context, docs []models.ProcessedArticle) (Manifest, error) {
	manifest := Manifest{
		Title:       e.config.SiteTitle,
		GeneratedAt: e.config.Now().UTC(),
		Articles:    make([]ManifestEntry, 0, len(docs)),
	}

	if err := os.MkdirAll(e.config.Dir, 0o755); err != nil {
		return manifest, fmt.Errorf("export: create output dir: %w", err)
	}

	names := fileNames{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return manifest, err
		}

		entry := newEntry(doc, names.assign(doc.Slug))

		markdown, err := renderMarkdown(doc)
		if err != nil {
			return manifest, fmt.Errorf("export: %s: %w", doc.Slug, err)
		}
		if err := e.write(entry.Markdown, markdown); err != nil {
			return manifest, err
		}

		if !e.config.SkipHTML {
			var page bytes.Buffer
			if err := articleTemplate.Execute(&page, articlePage{Site: e.config.SiteTitle, Article: doc.Article}); err != nil {
				return manifest, fmt.Errorf("export: %s: render html: %w", doc.Slug, err)
			}
			if err := e.write(entry.HTML, page.Bytes()); err != nil {
				return manifest, err
			}
		} else {
			entry.HTML = ""
		}

		manifest.Articles = append(manifest.Articles, entry)
		e.logger.Debug("exported article", zap.String("slug", doc.Slug))
	}

	index, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return manifest, fmt.Errorf("export: encode index: %w", err)
	}
	if err := e.write(IndexFile, index); err != nil {
		return manifest, err
	}

	if !e.config.SkipHTML {
		var page bytes.Buffer
		if err := indexTemplate.Execute(&page, manifest); err != nil {
			return manifest, fmt.Errorf("export: render index: %w", err)
		}
		if err := e.write("index.html", page.Bytes()); err != nil {
			return manifest, err
		}
	}

	if e.config.BaseURL != "" {
		if err := e.write(SitemapFile, []byte(buildSitemap(e.config.BaseURL, manifest))); err != nil {
			return manifest, err
		}
	}

	e.logger.Info("export finished",
		zap.String("dir", e.config.Dir),
		zap.Int("articles", len(manifest.Articles)))
	return manifest, nil
}

func (e *Exporter) write(name string, data []byte) error {
	path := filepath.Join(e.config.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", name, err)
	}
	return nil
}

// reservedNames are the file stems of the site-wide pages.
var reservedNames = map[string]bool{
	"index":   true,
	"sitemap": true,
}

// fileNames hands out one file stem per article so that no article page
// overwrites another article or a site-wide page.
type fileNames map[string]bool

func (f fileNames) assign(slug string) string {
	if slug == "" {
		slug = "article"
	}
	name := slug
	for n := 2; reservedNames[name] || f[name]; n++ {
		name = fmt.Sprintf("%s-%d", slug, n)
	}
	f[name] = true
	return name
}

func newEntry(doc models.ProcessedArticle, name string) ManifestEntry {
	entry := ManifestEntry{
		ID:             doc.ID,
		Slug:           doc.Slug,
		Title:          doc.Title,
		Summary:        doc.Summary,
		Author:         doc.Author,
		Tags:           doc.Tags,
		WordCount:      doc.WordCount,
		ReadingMinutes: int(doc.ReadingTime / time.Minute),
		Chunks:         len(doc.Chunks),
		Source:         doc.Source,
		URL:            doc.URL,
		Markdown:       name + ".md",
		HTML:           name + ".html",
	}
	if !doc.Date.IsZero() {
		date := doc.Date
		entry.Date = &date
	}
	for _, section := range doc.Sections {
		if section.Heading != "" {
			entry.Headings = append(entry.Headings, section.Heading)
		}
	}
	return entry
}

// reservedMetadata are keys the parser adds itself; they are written as
// regular fields or not at all.
var reservedMetadata = map[string]bool{
	"title": true, "slug": true, "summary": true, "author": true,
	"tags": true, "date": true, "draft": true, "source": true,
	"label": true, "index": true,
}

type frontMatter struct {
	Title   string                 `yaml:"title"`
	Slug    string                 `yaml:"slug"`
	Summary string                 `yaml:"summary,omitempty"`
	Author  string                 `yaml:"author,omitempty"`
	Tags    []string               `yaml:"tags,omitempty"`
	Date    time.Time              `yaml:"date,omitempty"`
	Draft   bool                   `yaml:"draft,omitempty"`
	Source  string                 `yaml:"source,omitempty"`
	Label   string                 `yaml:"label,omitempty"`
	Extra   map[string]interface{} `yaml:",inline"`
}

// renderMarkdown regenerates the front matter block and appends the body.
func renderMarkdown(doc models.ProcessedArticle) ([]byte, error) {
	fm := frontMatter{
		Title:   doc.Title,
		Slug:    doc.Slug,
		Summary: doc.Summary,
		Author:  doc.Author,
		Tags:    doc.Tags,
		Date:    doc.Date,
		Draft:   doc.Draft,
		Source:  doc.Source,
		Label:   doc.Label,
		Extra:   map[string]interface{}{},
	}
	for key, value := range doc.Metadata {
		if !reservedMetadata[key] {
			fm.Extra[key] = value
		}
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(doc.Markdown))
	b.WriteString("\n")
	return b.Bytes(), nil
}

func buildSitemap(baseURL string, manifest Manifest) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	var builder strings.Builder
	builder.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	builder.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")
	for _, entry := range manifest.Articles {
		builder.WriteString("  <url>\n")
		page := entry.HTML
		if page == "" {
			page = entry.Markdown
		}
		builder.WriteString(fmt.Sprintf("    <loc>%s/%s</loc>\n", base, template.URLQueryEscaper(page)))
		if entry.Date != nil {
			builder.WriteString(fmt.Sprintf("    <lastmod>%s</lastmod>\n", entry.Date.UTC().Format(time.RFC3339)))
		}
		builder.WriteString("  </url>\n")
	}
	builder.WriteString(`</urlset>` + "\n")
	return builder.String()
}
