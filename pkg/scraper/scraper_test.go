package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/markdown"
)

func TestScraperConfig(t *testing.T) {
	config := ScraperConfig{
		BaseURL:        "https://example.com",
		MaxDepth:       5,
		RateLimit:      1.0,
		IgnorePatterns: []string{"/ignore/", "private"},
		Timeout:        10 * time.Second,
	}

	s, err := NewWithConfig(config)
	require.NoError(t, err)
	assert.Equal(t, config.BaseURL, s.config.BaseURL)
	assert.Equal(t, config.MaxDepth, s.config.MaxDepth)
	assert.Equal(t, "example.com", s.baseHost)
	assert.NotEmpty(t, s.config.UserAgent)
}

func TestShouldProcessURL(t *testing.T) {
	config := ScraperConfig{
		BaseURL:           "https://example.com",
		IgnorePatterns:    []string{"/ignore/", "private"},
		AllowedExtensions: []string{".html", "/", ""},
	}

	s, err := NewWithConfig(config)
	require.NoError(t, err)

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"https://example.com/page.html", true},
		{"https://example.com/essays/minds", true},
		{"https://example.com/ignore/page.html", false},
		{"https://other-domain.com/page.html", false},
		{"https://example.com/file.pdf", false},
		{"mailto:someone@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			result := s.shouldProcessURL(tt.url)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title><script>var x = 1;</script></head>
				<body>
					<nav><a href="/private/admin">Admin</a></nav>
					<main>
						<h1>Test Content</h1>
						<p>This is a test paragraph.</p>
						<h2>Details</h2>
						<ul><li>first point</li><li>second point</li></ul>
						<pre>go run .
</pre>
						<a href="/page2.html#top">Link</a>
						<a href="/corpus.md">Corpus</a>
						<a href="/missing.html">Missing</a>
						<a href="https://elsewhere.example.org/">Away</a>
					</main>
				</body>
			</html>
		`))
	})
	mux.HandleFunc("/page2.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Second</title></head><body><article><p>Second page body.</p><a href="/">Home</a></article></body></html>`))
	})
	mux.HandleFunc("/corpus.md", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte("<|RELATED_DOC_SEP-1|># One\n\nFirst.\n<|RELATED_DOC_SEP-2|># Two\n\nSecond."))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestScrapeWithMockServer(t *testing.T) {
	server := newSite(t)

	var visited []string
	s, err := NewWithConfig(ScraperConfig{
		MaxDepth:       1,
		RateLimit:      100,
		IgnorePatterns: []string{"private"},
		OnProgress:     func(url string) { visited = append(visited, url) },
	})
	require.NoError(t, err)

	docs, err := s.Scrape(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, docs, 4)

	home := docs[0]
	assert.Equal(t, server.URL, home.Source)
	assert.Equal(t, "Test Page", home.Label)
	body := string(home.Body)
	assert.True(t, strings.HasPrefix(body, "# Test Content\n\nThis is a test paragraph."), body)
	assert.Contains(t, body, "## Details")
	assert.Contains(t, body, "- first point\n- second point")
	assert.Contains(t, body, "```\ngo run .\n```")
	assert.NotContains(t, body, "var x")
	assert.NotContains(t, body, "Admin")

	assert.Equal(t, server.URL+"/page2.html", docs[1].Source)
	assert.Equal(t, "Second page body.", string(docs[1].Body))

	assert.Equal(t, server.URL+"/corpus.md", docs[2].Source)
	assert.Equal(t, "1", docs[2].Label)
	assert.Equal(t, "# Two\n\nSecond.", string(docs[3].Body))
	assert.Equal(t, 1, docs[3].Index)

	// The fragment link and the link home are visited once; the missing page
	// is attempted and skipped.
	assert.ElementsMatch(t, []string{
		server.URL,
		server.URL + "/page2.html",
		server.URL + "/corpus.md",
		server.URL + "/missing.html",
	}, visited)
}

func TestScrapeRootFailure(t *testing.T) {
	server := newSite(t)

	s, err := NewWithConfig(ScraperConfig{RateLimit: 100})
	require.NoError(t, err)

	_, err = s.Scrape(context.Background(), server.URL+"/missing.html")
	assert.ErrorContains(t, err, "404")
}

func TestScrapeOutOfScope(t *testing.T) {
	s := New("https://example.com")

	_, err := s.Scrape(context.Background(), "https://other.example.org/")
	assert.Error(t, err)
}

func TestScrapeCanceled(t *testing.T) {
	server := newSite(t)

	s, err := NewWithConfig(ScraperConfig{RateLimit: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Scrape(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJoinBlocks(t *testing.T) {
	assert.Equal(t, "# A\n\n- x\n- y\n\ntext", joinBlocks([]string{"# A", "- x", "- y", "text"}))
}

func TestExtractMarkdownKeepsTextLiteral(t *testing.T) {
	page := `<html><body><main>
		<h2>C# &amp; F# | notes</h2>
		<p>Use &lt;T any&gt; for generics and &lt;b&gt;bold&lt;/b&gt; claims.</p>
		<p># 1 rule: *never* give up</p>
		<p>2. not a list, snake_case and [brackets]</p>
		<p>- dash &amp;lt;kept&amp;gt;</p>
		<pre>x := "` + "```" + `"</pre>
	</main></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)

	body := New("https://example.com").extractMarkdown(doc)
	article, err := markdown.NewParser(markdown.ParserConfig{}).Parse(models.RawArticle{Label: "page", Body: []byte(body)})
	require.NoError(t, err)

	require.Len(t, article.Sections, 1, body)
	section := article.Sections[0]
	assert.Equal(t, "C# & F# | notes", section.Heading)
	assert.Contains(t, section.Text, "Use <T any> for generics and <b>bold</b> claims.")
	assert.Contains(t, section.Text, "# 1 rule: *never* give up")
	assert.Contains(t, section.Text, "2. not a list, snake_case and [brackets]")
	assert.Contains(t, section.Text, "- dash &lt;kept&gt;")
	assert.Contains(t, section.Text, "x := \"```\"")
	assert.NotContains(t, article.HTML, "<b>bold</b>")
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain words.", "plain words."},
		{"a <b> & c", `a \<b\> \& c`},
		{"# not a heading", `\# not a heading`},
		{"- not an item", `\- not an item`},
		{"+ not an item", `\+ not an item`},
		{"12) not ordered", `12\) not ordered`},
		{"*stars* and _under_", `\*stars\* and \_under\_`},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeMarkdown(tt.in))
		})
	}
}
