// Package server exposes anonymization and mapping administration over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-anonymizer/internal/anonymizer"
	"github.com/raaihank/pii-anonymizer/internal/cache"
	"github.com/raaihank/pii-anonymizer/internal/config"
	"github.com/raaihank/pii-anonymizer/internal/detect"
	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/logger"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/websocket"
)

// Deps are the components the server exposes. Cache and Hub are optional.
type Deps struct {
	Anonymizer *anonymizer.Anonymizer
	Detector   detect.Detector
	Settings   *settings.Service
	DB         *store.DB
	Mappings   *store.MappingStore
	Audit      *store.AuditLog
	Cache      *cache.SpanCache
	Hub        *websocket.Hub
	Version    string
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	deps    Deps
	hub     *websocket.Hub
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		deps:    deps,
		hub:     deps.Hub,
		limiter: NewRateLimiter(cfg.RateLimit),
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	if s.hub != nil {
		deps.Settings.OnChange(s.hub.ConfigUpdated)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.recoverMiddleware, s.loggingMiddleware, s.rateLimitMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: string(errs.KindNotFound), Message: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: "method not allowed"})
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	r.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	r.HandleFunc("/anonymize/batch", s.handleAnonymizeBatch).Methods(http.MethodPost)

	r.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut)
	r.HandleFunc("/config/entity-types", s.handleEntityTypes).Methods(http.MethodGet)
	r.HandleFunc("/config/locales", s.handleLocales).Methods(http.MethodGet)

	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/stats/export", s.handleExportStats).Methods(http.MethodGet)
	r.HandleFunc("/stats/{entity_type}", s.handleEntityStats).Methods(http.MethodGet)

	r.HandleFunc("/mappings", s.handleListMappings).Methods(http.MethodGet)
	r.HandleFunc("/mappings", s.handleDeleteAllMappings).Methods(http.MethodDelete)
	r.HandleFunc("/mappings/export", s.handleExportMappings).Methods(http.MethodGet)
	r.HandleFunc("/mappings/{id:[0-9]+}", s.handleGetMapping).Methods(http.MethodGet)
	r.HandleFunc("/mappings/{id:[0-9]+}", s.handleUpdateMapping).Methods(http.MethodPut)
	r.HandleFunc("/mappings/{id:[0-9]+}", s.handleDeleteMapping).Methods(http.MethodDelete)

	r.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	if s.hub != nil && s.config.WebSocket.Enabled {
		r.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and background loops and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PII anonymization server",
		zap.String("addr", s.server.Addr),
		zap.String("database", s.deps.DB.Driver()),
		zap.Bool("cache_enabled", s.deps.Cache != nil),
		zap.Bool("websocket_enabled", s.hub != nil),
		zap.Bool("rate_limit_enabled", s.config.RateLimit.Enabled))

	if s.hub != nil {
		go s.hub.Run(ctx)
		if s.config.WebSocket.StatusInterval > 0 {
			go s.statusLoop(ctx, s.config.WebSocket.StatusInterval)
		}
	}
	s.limiter.StartCleanupRoutine(ctx, 10*time.Minute)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII anonymization server")
	return s.server.Shutdown(ctx)
}

// ApplyConfig re-applies the settings that may change while running.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.limiter.Update(cfg.RateLimit)
	s.logger.Info("Server configuration reloaded",
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Int("requests_per_min", cfg.RateLimit.RequestsPerMin))
}

func (s *Server) statusLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.SystemStatus(s.systemStatus(ctx))
		}
	}
}

func (s *Server) systemStatus(ctx context.Context) websocket.SystemStatusEvent {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "healthy"
	total, err := s.deps.Mappings.Count(ctx)
	if err != nil {
		status = "degraded"
	}

	return websocket.SystemStatusEvent{
		Status:           status,
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		TotalMappings:    total,
		ConfigVersion:    s.deps.Settings.Current().Version,
		ConnectedClients: int(s.hub.GetStats().ActiveConnections),
		Goroutines:       runtime.NumGoroutine(),
		MemoryAllocMB:    float64(mem.Alloc) / (1 << 20),
	}
}
