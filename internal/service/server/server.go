package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/port"
	"github.com/vertextoedge/fetchcache/internal/service/fetcher"
	"github.com/vertextoedge/fetchcache/internal/telemetry"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	DebugUsername string
	DebugPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	FetchTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
		FetchTimeout: 10 * time.Minute,
	}
}

// Deps are the services the API exposes. Journal and Telemetry may be nil.
type Deps struct {
	Coordinator *fetcher.Coordinator
	Store       port.FileStore
	Journal     port.AttemptJournal
	Telemetry   *telemetry.Telemetry
}

// Server represents the HTTP API server
type Server struct {
	config       *Config
	deps         Deps
	logger       *zap.Logger
	server       *http.Server
	fetchHandler *FetchHandler
	debugHandler *DebugHandler
}

// New creates a new HTTP server
func New(cfg *Config, deps Deps, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Minute
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	s.fetchHandler = NewFetchHandler(deps.Coordinator, cfg.FetchTimeout, logger)
	s.debugHandler = NewDebugHandler(deps.Coordinator, deps.Store, deps.Journal, logger)

	handler := otelhttp.NewHandler(s.Routes(), "fetchcache.http",
		otelhttp.WithMeterProvider(deps.Telemetry.MeterProvider()),
		otelhttp.WithTracerProvider(deps.Telemetry.TracerProvider()))

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the instrumented handler the server listens with
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/fetch", s.fetchHandler.HandleFetch)
	r.Method(http.MethodGet, "/metrics", s.deps.Telemetry.Handler())

	r.Route("/debug", func(r chi.Router) {
		if s.config.DebugUsername != "" {
			r.Use(BasicAuthMiddleware(s.config.DebugUsername, s.config.DebugPassword, s.logger))
		}
		r.Get("/inflight", s.debugHandler.HandleInFlight)
		r.Get("/stats", s.debugHandler.HandleStats)
		r.Get("/attempts", s.debugHandler.HandleAttempts)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "journal unavailable"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

type errorResponse struct {
	Error          string `json:"error"`
	URL            string `json:"url,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	ResumeCaptured bool   `json:"resume_captured,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
