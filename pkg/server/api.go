package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/models"
	"github.com/xhad/corpus/pkg/pipeline"
	"github.com/xhad/corpus/pkg/store"
)

const maxSearchLimit = 50

type articleSummary struct {
	ID             string     `json:"id"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary,omitempty"`
	Author         string     `json:"author,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Date           *time.Time `json:"date,omitempty"`
	URL            string     `json:"url,omitempty"`
	Source         string     `json:"source,omitempty"`
	WordCount      int        `json:"word_count"`
	ReadingMinutes int        `json:"reading_minutes"`
}

type sectionView struct {
	Heading    string   `json:"heading,omitempty"`
	Level      int      `json:"level"`
	Breadcrumb []string `json:"breadcrumb,omitempty"`
	Text       string   `json:"text"`
}

type articleView struct {
	articleSummary
	Markdown string                 `json:"markdown"`
	HTML     string                 `json:"html"`
	Sections []sectionView          `json:"sections,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
}

func newSummary(a models.Article) articleSummary {
	summary := articleSummary{
		ID:             a.ID,
		Slug:           a.Slug,
		Title:          a.Title,
		Summary:        a.Summary,
		Author:         a.Author,
		Tags:           a.Tags,
		URL:            a.URL,
		Source:         a.Source,
		WordCount:      a.WordCount,
		ReadingMinutes: int(a.ReadingTime / time.Minute),
	}
	if !a.Date.IsZero() {
		date := a.Date
		summary.Date = &date
	}
	return summary
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.config.Pipeline.Store().ListArticles(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	summaries := make([]articleSummary, 0, len(articles))
	for _, article := range articles {
		summaries = append(summaries, newSummary(article))
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.config.Pipeline.Store().GetArticle(r.Context(), r.PathValue("slug"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	view := articleView{
		articleSummary: newSummary(*article),
		Markdown:       article.Markdown,
		HTML:           article.HTML,
		Metadata:       article.Metadata,
	}
	for _, section := range article.Sections {
		view.Sections = append(view.Sections, sectionView(section))
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleDeleteArticle removes an article and its chunks from the index.
func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	vectorStore := s.config.Pipeline.Store()
	article, err := vectorStore.GetArticle(r.Context(), r.PathValue("slug"))
	if err == nil {
		err = vectorStore.DeleteArticle(r.Context(), article.ID)
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("article deleted", zap.String("slug", article.Slug), zap.String("id", article.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, pipeline.ErrEmptyQuery)
		return
	}

	limit := s.config.SearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 50"))
			return
		}
		limit = n
	}

	hits, err := s.config.Pipeline.Search(r.Context(), query, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newHitViews(hits))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("error writing response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorView{Error: err.Error()})
}
