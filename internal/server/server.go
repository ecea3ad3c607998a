// Package server implements the HTTP API: the CCE read views, the manual
// cycle trigger, the tick event stream, health, and the MCP mount.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/ratelimit"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/service/query"
)

// CycleRunner runs update cycles on demand.
type CycleRunner interface {
	RunUpdateCycle(ctx context.Context, opts cce.RunOptions) (*cce.TickResult, error)
	LastTick() *cce.TickResult
	Config() cce.Config
}

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the CCE HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Broker, MCPServer, CycleLimiter, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Query  *query.Service
	Engine CycleRunner
	Store  Pinger
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Broker       *Broker
	MCPServer    *mcpserver.MCPServer
	CycleLimiter ratelimit.Limiter
	OpenAPISpec  []byte // Embedded OpenAPI YAML.

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	StoreDriver         string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Query:               cfg.Query,
		Engine:              cfg.Engine,
		Store:               cfg.Store,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		StoreDriver:         cfg.StoreDriver,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	cycleRL := ratelimit.Middleware(cfg.CycleLimiter, ratelimit.IPKeyFunc, 10, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many cycle requests")
	}, cfg.Logger)

	mux := http.NewServeMux()

	// Read views.
	mux.HandleFunc("GET /v1/conflicts", h.HandleConflicts)
	mux.HandleFunc("GET /v1/theatres", h.HandleTheatres)
	mux.HandleFunc("GET /v1/fronts", h.HandleFronts)
	mux.HandleFunc("GET /v1/alliances", h.HandleAlliances)
	mux.HandleFunc("GET /v1/relations", h.HandleRelations)
	mux.HandleFunc("GET /v1/world", h.HandleWorld)

	// Manual cycle trigger and last result.
	mux.Handle("POST /v1/cycle", cycleRL(http.HandlerFunc(h.HandleCycle)))
	mux.HandleFunc("GET /v1/cycle", h.HandleLastCycle)

	// Tick event stream (long-lived).
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = newTracingMiddleware()(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
