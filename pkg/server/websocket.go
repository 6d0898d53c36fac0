package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/llm"
)

// Frame types.
const (
	TypeQuery    = "query"
	TypeIngest   = "ingest"
	TypeStream   = "stream"
	TypeResponse = "response"
	TypeResults  = "results"
	TypeDone     = "done"
	TypeProgress = "progress"
	TypeStatus   = "status"
	TypeError    = "error"
)

const writeWait = 10 * time.Second

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// session serializes writes to one connection.
type session struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *session) send(msgType, content string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		c.logger.Debug("error sending message", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx, cancel := context.WithCancel(r.Context())
	c := &session{conn: conn, logger: s.logger}

	// Closing the connection unblocks ReadMessage on shutdown.
	closed := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(closed)
	}()

	var handlers sync.WaitGroup
	defer func() {
		cancel()
		handlers.Wait()
		<-closed
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				s.logger.Debug("error reading message", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.send(TypeError, fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, c *session, msg Message) {
	query := strings.TrimSpace(msg.Content)

	switch msg.Type {
	case TypeIngest:
		if !urlRegex.MatchString(query) {
			c.send(TypeError, "ingest requires an http(s) URL", nil)
			return
		}
		s.ingestURL(ctx, c, urlRegex.FindString(query))
		c.send(TypeDone, "", nil)
		return
	case TypeQuery, "":
	default:
		c.send(TypeError, fmt.Sprintf("unknown message type %q", msg.Type), nil)
		return
	}

	// Check for URL in the query
	if url := urlRegex.FindString(query); url != "" {
		if !s.ingestURL(ctx, c, url) {
			return
		}
		// Only continue with chat if query contains more than just the URL
		query = strings.TrimSpace(strings.Replace(query, url, "", 1))
		if query == "" {
			c.send(TypeDone, "", nil)
			return
		}
	}

	if query == "" {
		c.send(TypeError, "empty query", nil)
		return
	}

	hits, err := s.config.Pipeline.Search(ctx, query, s.config.SearchLimit)
	if err != nil {
		c.send(TypeError, fmt.Sprintf("error querying articles: %v", err), nil)
		return
	}

	sources := llm.FormatSources(hits)
	switch {
	case s.config.Chat == nil:
		c.send(TypeResults, fmt.Sprintf("%d matching excerpts", len(hits)), newHitViews(hits))
	case s.config.Streaming:
		stream, errs := s.config.Chat.ChatStream(ctx, query, hits)
		for chunk := range stream {
			c.send(TypeStream, chunk, nil)
		}
		if err := <-errs; err != nil {
			c.send(TypeError, fmt.Sprintf("Error: %v", err), nil)
			return
		}
	default:
		response, err := s.config.Chat.Chat(ctx, query, hits)
		if err != nil {
			c.send(TypeError, fmt.Sprintf("Error: %v", err), nil)
			return
		}
		c.send(TypeResponse, response, nil)
	}

	c.send(TypeDone, sources, newHitViews(hits))
}

// ingestURL crawls url and ingests what it finds, reporting progress on c.
// It reports whether the ingest succeeded.
func (s *Server) ingestURL(ctx context.Context, c *session, url string) bool {
	if s.config.NewFetcher == nil {
		c.send(TypeError, "ingesting URLs is not enabled", nil)
		return false
	}

	c.send(TypeStatus, fmt.Sprintf("Processing URL: %s", url), nil)

	var processedCount int32
	fetcher, err := s.config.NewFetcher(func(string) {
		n := atomic.AddInt32(&processedCount, 1)
		c.send(TypeProgress, fmt.Sprintf("Scraped %d pages", n), nil)
	})
	if err != nil {
		c.send(TypeError, fmt.Sprintf("Failed to initialize scraper: %v", err), nil)
		return false
	}

	raws, err := fetcher.Scrape(ctx, url)
	if err != nil {
		c.send(TypeError, fmt.Sprintf("Failed to scrape URL: %v", err), nil)
		return false
	}
	c.send(TypeStatus, fmt.Sprintf("Scraped %d articles", len(raws)), nil)

	report, err := s.config.Pipeline.Ingest(ctx, raws)
	if err != nil {
		c.send(TypeError, fmt.Sprintf("Failed to ingest: %v", err), nil)
		return false
	}

	c.send(TypeStatus, fmt.Sprintf("Stored %d articles (%d unchanged, %d failed)",
		report.Stored, report.Skipped, len(report.Failed)), nil)
	return true
}

// hitView is the JSON shape of a search hit.
type hitView struct {
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	URL        string   `json:"url,omitempty"`
	Breadcrumb []string `json:"breadcrumb,omitempty"`
	Text       string   `json:"text"`
	Distance   float32  `json:"distance"`
}

func newHitViews(hits []models.SearchResult) []hitView {
	views := make([]hitView, 0, len(hits))
	for _, hit := range hits {
		views = append(views, hitView{
			Slug:       hit.ArticleSlug,
			Title:      hit.ArticleTitle,
			URL:        hit.URL,
			Breadcrumb: hit.Breadcrumb,
			Text:       hit.Text,
			Distance:   hit.Distance,
		})
	}
	return views
}
