// Package httpserver is the optional, local-only HTTP ops surface: a
// health check, Prometheus metrics, and experiment-status endpoint
// layered over a gorilla/mux router with the same request-ID/logging/
// timeout middleware chain as the teacher's read-only API server,
// repurposed from scan-candidate endpoints to backtest/experiment
// status.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the ops server's bind address and timeouts.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane ops-surface timeouts for addr.
func DefaultConfig(addr string) Config {
	return Config{
		ListenAddr:   addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only ops HTTP surface: /healthz, /metrics, and
// /experiments/{id}.
type Server struct {
	router *mux.Router
	http   *http.Server
	log    zerolog.Logger
}

// New builds a Server wired to healthChecker (for /healthz), registry
// (for /metrics, may be nil to skip metrics registration), and
// statusLookup (for /experiments/{id}).
func New(cfg Config, health HealthChecker, registry *MetricsRegistry, status ExperimentStatusLookup, log zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{router: router, log: log}
	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.timeoutMiddleware)

	router.HandleFunc("/healthz", newHealthHandler(health)).Methods(http.MethodGet)
	if registry != nil {
		router.Handle("/metrics", registry.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/experiments/{id}", newExperimentStatusHandler(status)).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start blocks serving until the server is shut down or fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("ops HTTP surface listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpserver: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("ops request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
