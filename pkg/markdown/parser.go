package markdown

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
)

type ParserConfig struct {
	Extensions     []string
	Unsafe         bool
	HardWraps      bool
	WordsPerMinute int
	SummaryLength  int
	Logger         *zap.Logger
}

// Parser turns raw corpus segments into structured articles. Slugs are
// unique per Parser, so one Parser should serve one ingestion run.
type Parser struct {
	config  ParserConfig
	engine  goldmark.Markdown
	slugger *Slugger
	logger  *zap.Logger
}

func NewParser(config ParserConfig) *Parser {
	if config.WordsPerMinute <= 0 {
		config.WordsPerMinute = 200
	}
	if config.SummaryLength <= 0 {
		config.SummaryLength = 280
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Parser{
		config:  config,
		engine:  newEngine(config),
		slugger: NewSlugger(),
		logger:  config.Logger,
	}
}

func newEngine(config ParserConfig) goldmark.Markdown {
	rendererOptions := []renderer.Option{}
	if config.HardWraps {
		rendererOptions = append(rendererOptions, html.WithHardWraps())
	}
	if config.Unsafe {
		rendererOptions = append(rendererOptions, html.WithUnsafe())
	}

	return goldmark.New(
		goldmark.WithExtensions(collectExtensions(config.Extensions)...),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(rendererOptions...),
	)
}

var extensionRegistry = map[string]goldmark.Extender{
	"gfm":           extension.GFM,
	"table":         extension.Table,
	"strikethrough": extension.Strikethrough,
	"linkify":       extension.Linkify,
	"tasklist":      extension.TaskList,
	"definition":    extension.DefinitionList,
	"footnote":      extension.Footnote,
	"typographer":   extension.Typographer,
}

func collectExtensions(names []string) []goldmark.Extender {
	if len(names) == 0 {
		return []goldmark.Extender{extension.GFM, extension.Footnote, extension.Typographer}
	}

	var extenders []goldmark.Extender
	seen := map[string]bool{}
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		ext, ok := extensionRegistry[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		extenders = append(extenders, ext)
	}
	return extenders
}

// Parse structures a single raw article. Calls must be sequential within one
// run for slug assignment to follow corpus order.
func (p *Parser) Parse(raw models.RawArticle) (models.Article, error) {
	fm, body, err := ParseFrontMatter(raw.Body)
	if err != nil {
		return models.Article{}, fmt.Errorf("article %d (%s): %w", raw.Index, raw.Source, err)
	}
	body = bytes.TrimSpace(body)

	hash, err := ContentHash(raw.Body)
	if err != nil {
		return models.Article{}, fmt.Errorf("article %d: hash: %w", raw.Index, err)
	}

	doc := p.engine.Parser().Parse(text.NewReader(body))
	outline := buildOutline(doc, body, fm.Title == "")

	title := fm.Title
	if title == "" {
		title = outline.title
	}
	if title == "" {
		title = raw.Label
	}
	if title == "" {
		title = fmt.Sprintf("Untitled %d", raw.Index+1)
	}

	var rendered bytes.Buffer
	if err := p.engine.Renderer().Render(&rendered, body, doc); err != nil {
		return models.Article{}, fmt.Errorf("article %d: render: %w", raw.Index, err)
	}

	content := outline.content()
	words := len(strings.Fields(content))

	summary := fm.Summary
	if summary == "" {
		summary = truncate(outline.firstParagraph, p.config.SummaryLength)
	}

	slugValue := p.slugger.Assign(fm.Slug, title, raw.Index)

	metadata := make(map[string]interface{}, len(fm.Custom)+3)
	for key, value := range fm.Custom {
		metadata[key] = value
	}
	metadata["index"] = raw.Index
	metadata["source"] = raw.Source
	if raw.Label != "" {
		metadata["label"] = raw.Label
	}

	article := models.Article{
		ID:          ArticleID(slugValue),
		Slug:        slugValue,
		Index:       raw.Index,
		Label:       raw.Label,
		Source:      raw.Source,
		Title:       title,
		Summary:     summary,
		Author:      fm.Author,
		Tags:        fm.Tags,
		Date:        fm.Date,
		Draft:       fm.Draft,
		Markdown:    string(body),
		Content:     content,
		HTML:        rendered.String(),
		Sections:    outline.sections,
		WordCount:   words,
		ReadingTime: p.readingTime(words),
		Hash:        hash,
		Metadata:    metadata,
	}
	if strings.HasPrefix(raw.Source, "http://") || strings.HasPrefix(raw.Source, "https://") {
		article.URL = raw.Source
	}

	p.logger.Debug("parsed article",
		zap.String("slug", article.Slug),
		zap.Int("sections", len(article.Sections)),
		zap.Int("words", words))

	return article, nil
}

func (p *Parser) readingTime(words int) time.Duration {
	if words == 0 {
		return 0
	}
	minutes := math.Ceil(float64(words) / float64(p.config.WordsPerMinute))
	return time.Duration(minutes) * time.Minute
}

// Reset forgets the slugs handed out so far.
func (p *Parser) Reset() {
	p.slugger.Reset()
}

type outline struct {
	title          string
	firstParagraph string
	sections       []models.Section
}

func (o outline) content() string {
	var b strings.Builder
	for _, section := range o.sections {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if section.Heading != "" {
			b.WriteString(section.Heading)
			if section.Text != "" {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(section.Text)
	}
	return b.String()
}

type crumb struct {
	level   int
	heading string
}

func buildOutline(doc ast.Node, source []byte, wantTitle bool) outline {
	var out outline
	var stack []crumb
	current := models.Section{}
	var body strings.Builder
	firstHeading := true

	flush := func() {
		current.Text = strings.TrimSpace(body.String())
		if current.Text != "" || current.Heading != "" {
			out.sections = append(out.sections, current)
		}
		body.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok {
			headingText := strings.TrimSpace(plainText(heading, source))
			if firstHeading && wantTitle && heading.Level == 1 {
				out.title = headingText
				firstHeading = false
				continue
			}
			firstHeading = false

			flush()
			for len(stack) > 0 && stack[len(stack)-1].level >= heading.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, crumb{level: heading.Level, heading: headingText})

			breadcrumb := make([]string, len(stack))
			for i, c := range stack {
				breadcrumb[i] = c.heading
			}
			current = models.Section{
				Heading:    headingText,
				Level:      heading.Level,
				Breadcrumb: breadcrumb,
			}
			continue
		}

		blockText := strings.TrimSpace(plainText(n, source))
		if blockText == "" {
			continue
		}
		if out.firstParagraph == "" && n.Kind() == ast.KindParagraph {
			out.firstParagraph = blockText
		}
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(blockText)
	}
	flush()

	return out
}

func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	writeText(&b, n, source)
	return b.String()
}

func writeText(b *strings.Builder, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Text:
		b.WriteString(unescapeText(node.Segment.Value(source)))
		if node.SoftLineBreak() || node.HardLineBreak() {
			b.WriteByte(' ')
		}
		return
	case *ast.String:
		// Typographer substitutions arrive as HTML entities.
		if node.IsCode() {
			b.Write(node.Value)
		} else {
			b.WriteString(stdhtml.UnescapeString(string(node.Value)))
		}
		return
	case *ast.AutoLink:
		b.Write(node.URL(source))
		return
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			b.Write(segment.Value(source))
		}
		return
	case *ast.HTMLBlock, *ast.RawHTML:
		return
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeText(b, c, source)
		if c.Type() == ast.TypeBlock && c.NextSibling() != nil {
			b.WriteByte('\n')
		}
	}
}

// unescapeText resolves backslash escapes and entity references in a text
// segment, matching what the HTML renderer shows.
func unescapeText(value []byte) string {
	if bytes.IndexByte(value, '\\') < 0 && bytes.IndexByte(value, '&') < 0 {
		return string(value)
	}

	var b strings.Builder
	start := 0
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i+1 >= len(value) || !util.IsPunct(value[i+1]) {
			continue
		}
		b.WriteString(stdhtml.UnescapeString(string(value[start:i])))
		b.WriteByte(value[i+1])
		i++
		start = i + 1
	}
	b.WriteString(stdhtml.UnescapeString(string(value[start:])))
	return b.String()
}

// truncate shortens s to at most limit runes, cutting on a word boundary.
func truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.") + "…"
}
