// Package server assembles the HTTP surface: the publisher websocket
// endpoint, HLS playback, liveness listing, health, and metrics.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"

	"relaycast/internal/observability/logging"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/stream"
)

// Config wires the HTTP surface together.
type Config struct {
	OutputRoot      string
	FrontendOrigins []string
	Registry        *stream.Registry
	Gateway         *stream.Gateway
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Server is the assembled HTTP handler plus the prepared output root.
type Server struct {
	router     chi.Router
	outputRoot string
	registry   *stream.Registry
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New prepares the output root and builds the router. Any output left over
// from a previous run is discarded so playback never serves stale segments.
func New(cfg Config) (*Server, error) {
	if cfg.OutputRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if cfg.Registry == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("registry and gateway are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	outputRoot, err := filepath.Abs(cfg.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}
	if err := os.RemoveAll(outputRoot); err != nil {
		return nil, fmt.Errorf("clear output root: %w", err)
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("prepare output root: %w", err)
	}

	policy, err := newCORSPolicy(cfg.FrontendOrigins)
	if err != nil {
		return nil, err
	}

	s := &Server{
		outputRoot: outputRoot,
		registry:   cfg.Registry,
		logger:     logger,
		metrics:    cfg.Metrics,
	}

	r := chi.NewRouter()
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger}))
	if cfg.Metrics != nil {
		r.Use(metrics.RequestMiddleware(cfg.Metrics))
	}
	r.Use(corsMiddleware(policy, logger))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/live", s.handleLive)
	if cfg.Metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			cfg.Metrics.Handler(func() {
				cfg.Metrics.SetActiveSessions(cfg.Registry.Len())
			}).ServeHTTP(w, req)
		})
	}
	r.Get("/socket", cfg.Gateway.HandleUpgrade)
	r.Handle("/streams/*", http.StripPrefix("/streams/", http.FileServer(http.Dir(outputRoot))))

	s.router = r
	return s, nil
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// OutputRoot returns the absolute directory HLS output is served from.
func (s *Server) OutputRoot() string {
	return s.outputRoot
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.IDs()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(ids),
		"streams": ids,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
