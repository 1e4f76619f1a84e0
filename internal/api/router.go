// Package api assembles the HTTP surface: routing, middleware, and
// the server lifecycle.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rowsage/rowsage/internal/api/handlers"
	"github.com/rowsage/rowsage/internal/api/middleware"
)

// RouterConfig controls CORS, timeouts, and rate limiting for the
// router.
type RouterConfig struct {
	// Browser cross-origin policy.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	RequestTimeout time.Duration

	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig

	// Service version reported by /health
	Version string
}

// DefaultRouterConfig permits any origin; deployments narrow this
// through their own config.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     60 * time.Second,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
		Version:            "0.1.0",
	}
}

// Dependencies carries everything the routes need. Optional entries
// may be nil and their routes degrade accordingly.
type Dependencies struct {
	Logger         *slog.Logger
	ChatService    handlers.ChatService
	SyncService    handlers.SyncService
	SyncStatus     handlers.SyncStatusReader
	SourceArchive  handlers.SourceArchive
	TokenValidator middleware.TokenValidator
	RateLimitStore middleware.RateLimitStore

	// Readiness components keyed by name. Nil entries read as not
	// configured.
	HealthCheckers map[string]handlers.HealthChecker
}

// NewRouter wires the middleware stack and the full route tree.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(chimiddleware.Timeout(config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		store := deps.RateLimitStore
		if store == nil {
			store = middleware.NewMemoryRateLimitStore()
		}
		rateLimiter = middleware.NewRateLimiter(store, config.RateLimitConfig, logger)
	}

	// Probes stay open: no auth, no rate limiting.
	r.Get("/health", handlers.HealthCheck(config.Version))
	r.Get("/ready", handlers.ReadyCheck(deps.HealthCheckers))

	// Everything under /api/v1 requires a bearer token.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.TokenValidator, logger))

		r.Route("/chat", func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(rateLimiter.Middleware("chat"))
			}
			r.Post("/", handlers.HandleChat(deps.ChatService, logger))
		})

		r.Route("/conversations", func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(rateLimiter.Middleware("conversation"))
			}
			r.Get("/", handlers.ListConversations(deps.ChatService, logger))
			r.Get("/{id}", handlers.GetConversation(deps.ChatService, logger))
			r.Get("/{id}/messages", handlers.GetConversationMessages(deps.ChatService, logger))
			r.Delete("/{id}", handlers.DeleteConversation(deps.ChatService, logger))
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", handlers.HandleSyncStatus(deps.SyncStatus, logger))

			// Mutating sync routes are admin only.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(logger))
				if rateLimiter != nil {
					r.Use(rateLimiter.Middleware("sync"))
				}
				r.Post("/", handlers.HandleSync(deps.SyncService, logger))
				r.Get("/sources", handlers.HandleListSources(deps.SourceArchive, logger))
			})
		})
	})

	return r
}

// Server wraps http.Server with logging and graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerConfig sets listener address and connection deadlines.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
// WriteTimeout is zero: a server-wide write deadline would cut long SSE
// streams mid-answer. The per-request timeout middleware still bounds
// handler time.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer builds the server around an assembled router.
func NewServer(handler http.Handler, config ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: logger,
	}
}

// Start blocks in ListenAndServe until Shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
