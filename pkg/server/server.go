package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/types"
	"github.com/xhad/corpus/pkg/pipeline"
)

type ServerConfig struct {
	Addr     string
	Pipeline *pipeline.Pipeline
	// Chat is optional; without it queries return raw search hits.
	Chat types.Chatter
	// NewFetcher builds a crawler for ingest requests. Ingest is rejected
	// when it is nil.
	NewFetcher      func(onProgress func(url string)) (types.Fetcher, error)
	Streaming       bool
	SearchLimit     int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// Server publishes the corpus over a WebSocket chat endpoint and a small
// JSON API.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// sessions tracks hijacked WebSocket connections, which
	// http.Server.Shutdown does not wait for.
	sessions sync.WaitGroup
}

func NewWithConfig(config ServerConfig) (*Server, error) {
	if config.Pipeline == nil || config.Pipeline.Store() == nil {
		return nil, errors.New("server requires a pipeline with a store")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = 5
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		logger: config.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/articles", s.handleListArticles)
	mux.HandleFunc("GET /api/articles/{slug}", s.handleGetArticle)
	mux.HandleFunc("DELETE /api/articles/{slug}", s.handleDeleteArticle)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	return mux
}

// Run listens on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully and waits for open WebSocket sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.sessions.Wait()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.sessions.Wait()
	s.logger.Info("server stopped")
	return err
}
