package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/internal/types"
	"github.com/xhad/corpus/pkg/corpus"
	"github.com/xhad/corpus/pkg/pipeline"
	"github.com/xhad/corpus/pkg/server"
	"github.com/xhad/corpus/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var keywords = []string{"alignment", "scaling", "agents"}

type keywordEmbedder struct{}

func vectorFor(text string) []float32 {
	text = strings.ToLower(text)
	vector := make([]float32, len(keywords))
	for i, keyword := range keywords {
		vector[i] = float32(strings.Count(text, keyword)) + 0.01
	}
	return vector
}

func (keywordEmbedder) EmbedChunks(_ context.Context, chunks []models.Chunk) error {
	for i := range chunks {
		chunks[i].Embedding = vectorFor(chunks[i].EmbeddingText())
	}
	return nil
}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return vectorFor(text), nil
}

type fakeChat struct {
	mu   sync.Mutex
	hits []models.SearchResult
	err  error
}

func (f *fakeChat) Chat(_ context.Context, query string, hits []models.SearchResult) (string, error) {
	f.record(hits)
	if f.err != nil {
		return "", f.err
	}
	return "Answer to " + query, nil
}

func (f *fakeChat) ChatStream(ctx context.Context, query string, hits []models.SearchResult) (<-chan string, <-chan error) {
	f.record(hits)
	text := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(text)
		defer close(errs)
		if f.err != nil {
			errs <- f.err
			return
		}
		for _, part := range []string{"Alignment ", "answer."} {
			select {
			case text <- part:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return text, errs
}

func (f *fakeChat) record(hits []models.SearchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = hits
}

type fakeFetcher struct {
	onProgress func(string)
	raws       []models.RawArticle
}

func (f *fakeFetcher) Scrape(_ context.Context, url string) ([]models.RawArticle, error) {
	f.onProgress(url)
	return f.raws, nil
}

const essays = `<|RELATED_DOC_SEP-1|>
# First Essay

Alignment is the problem of making goals match. Alignment again.

<|RELATED_DOC_SEP-2|>
# Second Essay

Scaling laws describe growth. More scaling follows.
`

func rawEssays(t *testing.T, source string) []models.RawArticle {
	t.Helper()
	raws, err := corpus.New().WithSource(source).SplitString(essays)
	require.NoError(t, err)
	return raws
}

type fixture struct {
	pipeline *pipeline.Pipeline
	chat     *fakeChat
	server   *server.Server
}

func newFixture(t *testing.T, streaming bool, seed bool) *fixture {
	t.Helper()

	p, err := pipeline.NewWithConfig(pipeline.PipelineConfig{
		Embedder: keywordEmbedder{},
		Store:    store.NewMemoryStore(5, 0.9),
	})
	require.NoError(t, err)
	if seed {
		_, err := p.Ingest(context.Background(), rawEssays(t, "essays.md"))
		require.NoError(t, err)
	}

	scraped := rawEssays(t, "https://example.com/essays")
	chat := &fakeChat{}
	s, err := server.NewWithConfig(server.ServerConfig{
		Pipeline:    p,
		Chat:        chat,
		Streaming:   streaming,
		SearchLimit: 1,
		NewFetcher: func(onProgress func(string)) (types.Fetcher, error) {
			return &fakeFetcher{onProgress: onProgress, raws: scraped}, nil
		},
	})
	require.NoError(t, err)

	return &fixture{pipeline: p, chat: chat, server: s}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestNewRequiresPipeline(t *testing.T) {
	_, err := server.NewWithConfig(server.ServerConfig{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, false).server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestArticlesAPI(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, true).server.Handler())
	defer ts.Close()

	var list []map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/articles", &list))
	require.Len(t, list, 2)
	assert.Equal(t, "first-essay", list[0]["slug"])

	var article map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/articles/second-essay", &article))
	assert.Equal(t, "Second Essay", article["title"])
	assert.Contains(t, article["html"], "<p>Scaling laws")
	assert.NotEmpty(t, article["sections"])

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/articles/nope", &missing))
	assert.NotEmpty(t, missing["error"])
}

func deleteArticle(t *testing.T, url string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestDeleteArticleAPI(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, true).server.Handler())
	defer ts.Close()

	assert.Equal(t, http.StatusNoContent, deleteArticle(t, ts.URL+"/api/articles/first-essay"))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/articles/first-essay", nil))

	var list []map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/articles", &list))
	require.Len(t, list, 1)
	assert.Equal(t, "second-essay", list[0]["slug"])

	var hits []map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/search?q=alignment", &hits))
	for _, hit := range hits {
		assert.NotEqual(t, "first-essay", hit["slug"])
	}

	assert.Equal(t, http.StatusNotFound, deleteArticle(t, ts.URL+"/api/articles/first-essay"))
}

func TestSearchAPI(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, true).server.Handler())
	defer ts.Close()

	var hits []map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/search?q=scaling&limit=1", &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "second-essay", hits[0]["slug"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/search?q=", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/search?q=x&limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/search?q=x&limit=500", nil))
}

func dial(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	require.NoError(t, err)
	return conn
}

// readUntil collects frames up to and including the first frame of type stop.
func readUntil(t *testing.T, conn *websocket.Conn, stop string) []server.Message {
	t.Helper()
	var frames []server.Message
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		frames = append(frames, msg)
		if msg.Type == stop {
			return frames
		}
	}
}

func frameTypes(frames []server.Message) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestWebSocketStreamingQuery(t *testing.T) {
	f := newFixture(t, true, true)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.TypeQuery, Content: "what about alignment?"}))
	frames := readUntil(t, conn, server.TypeDone)

	assert.Equal(t, []string{"stream", "stream", "done"}, frameTypes(frames))
	assert.Equal(t, "Alignment answer.", frames[0].Content+frames[1].Content)
	assert.Contains(t, frames[2].Content, "Sources:")
	assert.Contains(t, frames[2].Content, "First Essay (first-essay)")

	f.chat.mu.Lock()
	defer f.chat.mu.Unlock()
	require.Len(t, f.chat.hits, 1)
	assert.Equal(t, "first-essay", f.chat.hits[0].ArticleSlug)
}

func TestWebSocketQuery(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, true).server.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Content: "scaling?"}))
	frames := readUntil(t, conn, server.TypeDone)

	assert.Equal(t, []string{"response", "done"}, frameTypes(frames))
	assert.Equal(t, "Answer to scaling?", frames[0].Content)
}

func TestWebSocketChatError(t *testing.T) {
	f := newFixture(t, true, true)
	f.chat.err = errors.New("model unavailable")
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Content: "alignment"}))
	frames := readUntil(t, conn, server.TypeError)
	assert.Contains(t, frames[len(frames)-1].Content, "model unavailable")
}

func TestWebSocketIngest(t *testing.T) {
	f := newFixture(t, false, false)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.TypeIngest, Content: "https://example.com/essays"}))
	frames := readUntil(t, conn, server.TypeDone)

	assert.Equal(t, []string{"status", "progress", "status", "status", "done"}, frameTypes(frames))
	assert.Equal(t, "Scraped 1 pages", frames[1].Content)
	assert.Equal(t, "Scraped 2 articles", frames[2].Content)
	assert.Equal(t, "Stored 2 articles (0 unchanged, 0 failed)", frames[3].Content)

	list, err := f.pipeline.Store().ListArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "https://example.com/essays", list[0].URL)
}

func TestWebSocketQueryWithURL(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, false).server.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Content: "https://example.com/essays tell me about scaling"}))
	frames := readUntil(t, conn, server.TypeDone)

	last := frames[len(frames)-2]
	assert.Equal(t, server.TypeResponse, last.Type)
	assert.Equal(t, "Answer to tell me about scaling", last.Content)
}

func TestWebSocketBadMessages(t *testing.T) {
	ts := httptest.NewServer(newFixture(t, false, false).server.Handler())
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frames := readUntil(t, conn, server.TypeError)
	assert.Contains(t, frames[0].Content, "invalid message")

	require.NoError(t, conn.WriteJSON(server.Message{Type: "delete", Content: "x"}))
	frames = readUntil(t, conn, server.TypeError)
	assert.Contains(t, frames[0].Content, "unknown message type")

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.TypeIngest, Content: "not a url"}))
	frames = readUntil(t, conn, server.TypeError)
	assert.Contains(t, frames[0].Content, "requires an http(s) URL")
}

func TestServeShutsDownOpenSessions(t *testing.T) {
	f := newFixture(t, false, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.server.Serve(ctx, ln)
	}()

	conn := dial(t, "http://"+ln.Addr().String())
	defer conn.Close()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketOriginAllowList(t *testing.T) {
	p, err := pipeline.NewWithConfig(pipeline.PipelineConfig{
		Embedder: keywordEmbedder{},
		Store:    store.NewMemoryStore(5, 0.9),
	})
	require.NoError(t, err)

	s, err := server.NewWithConfig(server.ServerConfig{
		Pipeline:       p,
		AllowedOrigins: []string{"https://essays.example.com"},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	tests := []struct {
		name   string
		origin string
		status int
	}{
		{"allowed origin", "https://essays.example.com", http.StatusSwitchingProtocols},
		{"rejected origin", "https://elsewhere.example.org", http.StatusForbidden},
		{"no origin", "", http.StatusSwitchingProtocols},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}

			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.status == http.StatusForbidden {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}

func TestWebSocketWildcardOrigin(t *testing.T) {
	p, err := pipeline.NewWithConfig(pipeline.PipelineConfig{
		Embedder: keywordEmbedder{},
		Store:    store.NewMemoryStore(5, 0.9),
	})
	require.NoError(t, err)

	s, err := server.NewWithConfig(server.ServerConfig{Pipeline: p, AllowedOrigins: []string{"*"}})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"https://anywhere.example.net"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	conn.Close()
}
