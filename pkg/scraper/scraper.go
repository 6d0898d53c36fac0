package scraper

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/corpus"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	Splitter          corpus.SplitterConfig
	Logger            *zap.Logger
	OnProgress        func(url string)
}

// Scraper crawls a site and turns its pages into raw articles.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	limiter  *rate.Limiter
	splitter *corpus.Splitter
	logger   *zap.Logger

	mu       sync.Mutex
	visited  map[string]bool
	baseHost string
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", ".md", ".markdown", ".txt", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = "corpus-scraper/1.0"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	var baseHost string
	if config.BaseURL != "" {
		parsedURL, err := url.Parse(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		baseHost = parsedURL.Host
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		splitter: corpus.NewWithConfig(config.Splitter),
		logger:   config.Logger,
		visited:  make(map[string]bool),
		baseHost: baseHost,
	}, nil
}

func New(baseURL string) *Scraper {
	s, _ := NewWithConfig(ScraperConfig{
		BaseURL: baseURL,
	})
	return s
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	// Check extensions
	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if allowedExt == "" {
			// Extensionless paths such as /essays/foo.
			last := ext[strings.LastIndex(ext, "/")+1:]
			if !strings.Contains(last, ".") {
				validExt = true
				break
			}
			continue
		}
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// Scrape crawls rootURL and returns every page found as a raw article.
// Failure to fetch rootURL is an error; failures on followed links are
// logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, rootURL string) ([]models.RawArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visited = make(map[string]bool)
	if s.config.BaseURL == "" {
		parsedURL, err := url.Parse(rootURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %s: %w", rootURL, err)
		}
		s.baseHost = parsedURL.Host
	}

	if !s.shouldProcessURL(rootURL) {
		return nil, fmt.Errorf("URL %s is outside the crawl scope", rootURL)
	}

	var articles []models.RawArticle
	if err := s.scrapeRecursive(ctx, normalizeURL(rootURL), 0, &articles); err != nil {
		return nil, err
	}
	return articles, nil
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, articles *[]models.RawArticle) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain", "text/markdown", "text/x-markdown":
		found, err := s.splitter.WithSource(urlStr).Split(resp.Body)
		if err != nil {
			return fmt.Errorf("split %s: %w", urlStr, err)
		}
		*articles = append(*articles, found...)
		s.logger.Debug("scraped corpus file", zap.String("url", urlStr), zap.Int("articles", len(found)))
		return nil
	case "", "text/html", "application/xhtml+xml":
	default:
		s.logger.Debug("skipping unsupported content type", zap.String("url", urlStr), zap.String("type", mediaType))
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	body := s.extractMarkdown(doc)
	if body != "" {
		*articles = append(*articles, models.RawArticle{
			Label:  strings.TrimSpace(doc.Find("title").First().Text()),
			Source: urlStr,
			Body:   []byte(body),
		})
		s.logger.Debug("scraped page", zap.String("url", urlStr), zap.Int("depth", depth))
	}

	// Find and follow links
	base := resp.Request.URL
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		if ctx.Err() != nil {
			return
		}
		href, _ := selection.Attr("href")
		link, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			s.logger.Debug("error parsing URL", zap.String("href", href), zap.Error(err))
			return
		}

		next := normalizeURL(base.ResolveReference(link).String())
		if err := s.scrapeRecursive(ctx, next, depth+1, articles); err != nil {
			s.logger.Warn("error scraping URL", zap.String("url", next), zap.Error(err))
		}
	})

	return ctx.Err()
}

// normalizeURL drops the fragment so anchors on one page are visited once.
func normalizeURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	parsed.Fragment = ""
	return parsed.String()
}

func (s *Scraper) cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func (s *Scraper) mainContent(doc *goquery.Document) *goquery.Selection {
	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".post",
		".essay",
	}

	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			return selected.First()
		}
	}

	// Fallback to body if no main content found
	return doc.Find("body")
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote"

// extractMarkdown renders the page's main content as markdown so headings
// survive into the parser's outline.
func (s *Scraper) extractMarkdown(doc *goquery.Document) string {
	content := s.mainContent(doc)
	content.Find("script, style, nav, footer, header, aside, form").Remove()

	var blocks []string
	content.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		// Nested blocks are rendered with their container.
		if sel.ParentsFiltered("li, pre, blockquote").Length() > 0 {
			return
		}

		node := goquery.NodeName(sel)
		if node == "pre" {
			code := strings.Trim(sel.Text(), "\n")
			if code != "" {
				fence := "```"
				for strings.Contains(code, fence) {
					fence += "`"
				}
				blocks = append(blocks, fence+"\n"+code+"\n"+fence)
			}
			return
		}

		text := escapeMarkdown(s.cleanContent(sel.Text()))
		if text == "" {
			return
		}
		switch node {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			blocks = append(blocks, strings.Repeat("#", int(node[1]-'0'))+" "+text)
		case "li":
			blocks = append(blocks, "- "+text)
		case "blockquote":
			blocks = append(blocks, "> "+text)
		default:
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 {
		return escapeMarkdown(s.cleanContent(content.Text()))
	}
	return joinBlocks(blocks)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
	"&", `\&`,
	"#", `\#`,
	"~", `\~`,
	"|", `\|`,
)

var orderedListPrefix = regexp.MustCompile(`^(\d{1,9})([.)])`)

// escapeMarkdown keeps page text literal when it is read back as markdown.
// Text has already been collapsed to a single line.
func escapeMarkdown(text string) string {
	text = markdownEscaper.Replace(text)
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") || strings.HasPrefix(text, "=") {
		text = `\` + text
	}
	return orderedListPrefix.ReplaceAllString(text, `${1}\${2}`)
}

// joinBlocks separates blocks by blank lines, keeping list items tight.
func joinBlocks(blocks []string) string {
	var b strings.Builder
	for i, block := range blocks {
		if i > 0 {
			if strings.HasPrefix(block, "- ") && strings.HasPrefix(blocks[i-1], "- ") {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(block)
	}
	return b.String()
}
