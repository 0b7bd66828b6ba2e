// Package server exposes the document and question-answering services over
// a JSON REST API, with server-sent events for streaming answers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"citerag/internal/auth"
	"citerag/internal/citation"
	"citerag/internal/memory"
	"citerag/internal/repository"
	"citerag/internal/service"
)

// DocumentAPI is the document service surface the HTTP handlers consume.
type DocumentAPI interface {
	Ingest(ctx context.Context, filename, contentType string, data []byte) (*repository.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*repository.Document, error)
	List(ctx context.Context, status string, limit, offset int) ([]*repository.Document, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SourceURL(ctx context.Context, doc *repository.Document) string
}

// AnswerAPI is the question-answering surface the HTTP handlers consume.
type AnswerAPI interface {
	Query(ctx context.Context, req service.QueryRequest) (*service.QueryResult, error)
	QueryStream(ctx context.Context, req service.QueryRequest) (<-chan service.StreamEvent, error)
	VerifyCitation(ctx context.Context, documentID string, chunkIndex int, claimText, expectedSpan string) (*citation.Verification, error)
}

// Config holds configuration for the HTTP server.
type Config struct {
	Port           int
	AllowedOrigins []string
	Logger         *slog.Logger

	Documents DocumentAPI
	Answers   AnswerAPI
	Sessions  *memory.Store
	Auth      *auth.JWTManager
}

// Server wraps the HTTP server and its routes.
type Server struct {
	server   *http.Server
	router   *chi.Mux
	logger   *slog.Logger
	docs     DocumentAPI
	answers  AnswerAPI
	sessions *memory.Store
	auth     *auth.JWTManager
}

// New creates the HTTP server and mounts all routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		docs:     cfg.Documents,
		answers:  cfg.Answers,
		sessions: cfg.Sessions,
		auth:     cfg.Auth,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLoggingMiddleware(logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware(cfg.AllowedOrigins))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Post("/v1/auth/token", s.handleIssueToken)

	s.router.Route("/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(auth.Middleware(s.auth))
		}

		r.Post("/documents", s.handleUploadDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Post("/query", s.handleQuery)
		r.Post("/query/stream", s.handleQueryStream)
		r.Post("/citations/verify", s.handleVerifyCitation)

		r.Delete("/sessions/{id}", s.handleClearSession)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming answers hold the connection open
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// requestLoggingMiddleware logs HTTP requests.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				// No origins configured means a development setup.
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
