package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/manager"
	"github.com/fairwaylabs/coursehound/internal/observability"
	"github.com/fairwaylabs/coursehound/internal/robots"
	"github.com/fairwaylabs/coursehound/internal/types"
)

// Server exposes the scraping core over REST.
type Server struct {
	mux     *http.ServeMux
	port    int
	manager *manager.Manager
	robots  *robots.Cache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewServer creates the API server on top of a running manager.
func NewServer(port int, mgr *manager.Manager, robotsCache *robots.Cache, metrics *observability.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		port:    port,
		manager: mgr,
		robots:  robotsCache,
		metrics: metrics,
		logger:  logger.With("component", "api_server"),
	}

	s.registerRoutes()
	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start starts the API server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)

	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/scrape", s.handleScrape)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/robots", s.handleRobots)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

// scrapeRequest is the POST /api/scrape body.
type scrapeRequest struct {
	Target  types.ScrapingTarget   `json:"target"`
	Options *types.ScrapingOptions `json:"options,omitempty"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.Target.ID == "" {
		body.Target.ID = fmt.Sprintf("api-%d", time.Now().UnixMilli())
	}
	if err := body.Target.Validate(); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := s.manager.AddRequest(r.Context(), &body.Target, body.Options)
	if err != nil {
		status := http.StatusBadGateway
		var se *types.ScrapingError
		if errors.As(err, &se) && se.Type == types.ErrTypeRobots {
			status = http.StatusForbidden
		}
		s.jsonResponse(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"manager": s.manager.Stats(),
	}
	if s.metrics != nil {
		payload["counters"] = s.metrics.Snapshot()
	}
	s.jsonResponse(w, http.StatusOK, payload)
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "url parameter required"})
		return
	}
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		agent = "*"
	}

	check := s.robots.CanScrape(r.Context(), rawURL, agent)
	s.jsonResponse(w, http.StatusOK, check)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
