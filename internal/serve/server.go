// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     serve
// Description: HTTP transcription server with OpenAI-compatible endpoints
// Author:      Mike Stoffels with Claude
// Created:     2026-07-18
// License:     MIT
// ============================================================================

// Package serve exposes the transcription engine over HTTP. The REST
// endpoints follow the OpenAI audio API so existing clients work
// unchanged; a WebSocket endpoint carries the live path.
package serve

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/msto63/mSW/internal/store"
	"github.com/msto63/mSW/internal/transcribe"
	"github.com/msto63/mSW/pkg/core/cache"
	"github.com/msto63/mSW/pkg/core/health"
	"github.com/msto63/mSW/pkg/core/logging"
	"github.com/msto63/mSW/pkg/core/version"
)

// Server is the mSW transcription server
type Server struct {
	httpServer *http.Server
	handler    *Handler
	live       *LiveHandler
	results    *cache.ResultsCache
	health     *health.Registry
	logger     *logging.Logger
	config     Config
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	// ModelID is the engine name reported on /v1/models and accepted
	// in requests.
	ModelID string

	// MaxUploadBytes caps the size of uploaded audio files.
	MaxUploadBytes int64
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           50060,
		ReadTimeout:    120 * time.Second,
		WriteTimeout:   300 * time.Second,
		Version:        version.Server,
		ModelID:        "msw-local",
		MaxUploadBytes: 512 << 20,
	}
}

// New creates a new transcription server. The archive may be nil, in
// which case finished transcriptions are not persisted.
func New(cfg Config, transcriber *transcribe.Transcriber, archive store.TranscriptStore) (*Server, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("server requires a transcriber")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultConfig().ModelID
	}
	if cfg.Version == "" {
		cfg.Version = version.Server
	}

	logger := logging.New("msw-server")

	// Identical uploads with identical options skip the decode
	results := cache.NewResultsCache(cache.DefaultResultsConfig())

	// Create health registry
	healthRegistry := health.NewRegistry("msw", cfg.Version)
	healthRegistry.RegisterFunc("engine", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{
			Name:    "engine",
			Status:  health.StatusHealthy,
			Message: "transcription engine is loaded",
		}
	})
	healthRegistry.RegisterFunc("archive", func(ctx context.Context) health.CheckResult {
		if archive == nil {
			return health.CheckResult{
				Name:    "archive",
				Status:  health.StatusDegraded,
				Message: "archive disabled",
			}
		}
		if _, err := archive.Statistics(ctx); err != nil {
			return health.CheckResult{
				Name:    "archive",
				Status:  health.StatusUnhealthy,
				Message: fmt.Sprintf("archive unreachable: %v", err),
			}
		}
		return health.CheckResult{
			Name:    "archive",
			Status:  health.StatusHealthy,
			Message: "archive is reachable",
		}
	})

	h := NewHandler(cfg, transcriber, archive, results, healthRegistry)
	live := NewLiveHandler(LiveConfig{Transcriber: transcriber})

	mux := http.NewServeMux()

	// WebSocket route
	mux.Handle("/ws/v1/audio/transcriptions", live)

	// REST routes
	mux.Handle("/", h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      loggingMiddleware(logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		httpServer: httpServer,
		handler:    h,
		live:       live,
		results:    results,
		health:     healthRegistry,
		logger:     logger,
		config:     cfg,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE streaming support
func (w *responseWrapper) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker so the WebSocket upgrade works
// through the logging wrapper
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap exposes the underlying writer to http.ResponseController
func (w *responseWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Start starts the server and blocks until it shuts down
func (s *Server) Start() error {
	s.logger.Info("Starting mSW transcription server",
		"host", s.config.Host,
		"port", s.config.Port,
	)
	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server asynchronously
func (s *Server) StartAsync() error {
	s.logger.Info("Starting mSW transcription server (async)",
		"host", s.config.Host,
		"port", s.config.Port,
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping mSW transcription server")
	s.results.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Handler returns the root handler with middleware applied. It serves
// the same routes ListenAndServe would and suits embedding into an
// existing mux or a test server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HealthRegistry returns the health check registry
func (s *Server) HealthRegistry() *health.Registry {
	return s.health
}
