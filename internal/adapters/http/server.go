// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/jobrunner/vicinus/internal/application"
	"github.com/jobrunner/vicinus/internal/config"
	"github.com/jobrunner/vicinus/internal/ports/input"
)

const defaultMaxBodyBytes = 64 << 10

// SyncTrigger starts an on-demand dataset sync.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server  *http.Server
	router  *mux.Router
	chat    input.ChatService
	catalog input.CatalogService
	health  input.HealthChecker
	sync    SyncTrigger // nil when storage is local
	limiter *rate.Limiter
	logger  *slog.Logger
	config  config.ServerConfig
}

// NewServer creates a new HTTP server. sync may be nil.
func NewServer(
	cfg config.ServerConfig,
	chat input.ChatService,
	catalog input.CatalogService,
	health input.HealthChecker,
	sync SyncTrigger,
	logger *slog.Logger,
) *Server {
	s := &Server{
		chat:    chat,
		catalog: catalog,
		health:  health,
		sync:    sync,
		logger:  logger,
		config:  cfg,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst)
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	if s.config.CORS.Enabled() {
		r.Use(corsMiddleware(newOriginPolicy(s.config.CORS.AllowedOrigins)))
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// Chat. OPTIONS is routed so the CORS middleware can answer preflights.
	r.Handle("/api/chat", s.rateLimited(http.HandlerFunc(s.handleChat))).
		Methods(http.MethodPost, http.MethodOptions)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/layers", s.handleListLayers).Methods(http.MethodGet)
	api.HandleFunc("/layers/{name}", s.handleGetLayer).Methods(http.MethodGet)

	if s.sync != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)

	return r
}

// EnableMetrics mounts the metrics endpoint and instruments all routes.
func (s *Server) EnableMetrics(path string, handler http.Handler, middleware mux.MiddlewareFunc) {
	if path == "" {
		path = "/metrics"
	}
	s.router.Handle(path, handler).Methods(http.MethodGet)
	s.router.Use(middleware)
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestIDMiddleware propagates X-Request-ID, generating one when absent.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(application.WithRequestID(r.Context(), id)))
	})
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", application.RequestID(r.Context()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimited rejects requests beyond the configured rate with 429.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "Too many questions. Slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
