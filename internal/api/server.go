package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bingal/rss-reader/internal/feed"
	"github.com/bingal/rss-reader/internal/store"
	"github.com/bingal/rss-reader/internal/translate"
	"github.com/bingal/rss-reader/internal/worker"
)

const defaultLogLines = 100

// Server serves the reader's control API over a Unix socket (and
// optionally TCP).
type Server struct {
	supervisor *worker.Supervisor
	store      *store.Store
	fetcher    *feed.Fetcher
	translator *translate.Client
	server     *http.Server
	logger     *slog.Logger
}

// NewServer creates an API server over the daemon's collaborators.
func NewServer(sup *worker.Supervisor, st *store.Store,
	fetcher *feed.Fetcher, translator *translate.Client) *Server {

	s := &Server{
		supervisor: sup,
		store:      st,
		fetcher:    fetcher,
		translator: translator,
		logger:     slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/backend", s.backendStatus)
	mux.HandleFunc("GET /v1/backend/port", s.backendPort)
	mux.HandleFunc("GET /v1/backend/logs", s.backendLogs)
	mux.HandleFunc("POST /v1/backend/restart", s.backendRestart)

	mux.HandleFunc("GET /v1/feeds", s.listFeeds)
	mux.HandleFunc("POST /v1/feeds", s.addFeed)
	mux.HandleFunc("DELETE /v1/feeds/{id}", s.removeFeed)
	mux.HandleFunc("POST /v1/feeds/{id}/refresh", s.refreshFeed)
	mux.HandleFunc("POST /v1/refresh", s.refreshAll)

	mux.HandleFunc("GET /v1/articles", s.listArticles)
	mux.HandleFunc("POST /v1/articles/{id}/read", s.markRead)
	mux.HandleFunc("POST /v1/articles/{id}/star", s.setStarred)

	mux.HandleFunc("POST /v1/translate", s.translateText)

	mux.HandleFunc("GET /v1/settings/{key}", s.getSetting)
	mux.HandleFunc("PUT /v1/settings/{key}", s.putSetting)

	mux.HandleFunc("GET /v1/health", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{Handler: mux}
	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) backendStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) backendPort(w http.ResponseWriter, r *http.Request) {
	port, err := s.supervisor.Port()
	if err != nil {
		// Transient: the client should retry once the worker is back up.
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint16{"port": port})
}

func (s *Server) backendLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid n"})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": s.supervisor.Logs(n)})
}

func (s *Server) backendRestart(w http.ResponseWriter, r *http.Request) {
	port, err := s.supervisor.Restart()
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint16{"port": port})
}

func (s *Server) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.Feeds()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if feeds == nil {
		feeds = []store.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) addFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	// Fetch once up front so a dead URL is rejected and the feed's own
	// title and description fill any missing fields.
	doc, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	title := req.Title
	if title == "" {
		title = doc.Title
	}
	if title == "" {
		title = req.URL
	}

	sub, err := s.store.AddFeed(title, req.URL, doc.Description, req.Category)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	if n, err := s.fetcher.Refresh(r.Context(), sub); err != nil {
		s.logger.Warn("initial refresh failed", "feed", sub.ID, "error", err)
	} else {
		s.logger.Info("feed added", "feed", sub.ID, "articles", n)
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) removeFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveFeed(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) refreshFeed(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.Feed(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	saved, err := s.fetcher.Refresh(r.Context(), sub)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"new_articles": saved})
}

func (s *Server) refreshAll(w http.ResponseWriter, r *http.Request) {
	saved, failed, err := s.fetcher.RefreshAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"new_articles": saved, "failed_feeds": failed})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}
		offset = parsed
	}

	filter := store.FilterAll
	switch q.Get("filter") {
	case "", "all":
	case "unread":
		filter = store.FilterUnread
	case "starred":
		filter = store.FilterStarred
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filter"})
		return
	}

	articles, err := s.store.Articles(q.Get("feed_id"), filter, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if articles == nil {
		articles = []store.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Read bool `json:"read"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.store.MarkRead(r.PathValue("id"), req.Read); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) setStarred(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Starred bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.store.SetStarred(r.PathValue("id"), req.Starred); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) translateText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string `json:"text"`
		TargetLang string `json:"target_lang"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" || req.TargetLang == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text and target_lang are required"})
		return
	}
	out, err := s.translator.Translate(r.Context(), req.Text, req.TargetLang)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"translated_text": out})
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok, err := s.store.Setting(key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "setting not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.store.SetSetting(r.PathValue("key"), req.Value); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "backend": s.supervisor.Status().State}
	if _, err := s.supervisor.Port(); errors.Is(err, worker.ErrNotReady) {
		status["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
