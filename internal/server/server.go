// Package server exposes the analysis engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/security"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

// Version is reported by /info.
const Version = "0.1.0"

const statusInterval = 30 * time.Second

// Analyzer is the engine surface the API needs; *analyzer.Analyzer
// implements it.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*privacy.Analysis, error)
	Mask(text string, findings []privacy.Finding, ids privacy.IDSet) string
	Locale() string
	Sources() []string
}

// AuditStore is the audit trail surface the API needs; *audit.Store
// implements it.
type AuditStore interface {
	Save(ctx context.Context, rec *audit.Record) error
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
	Stats(ctx context.Context) (*audit.Stats, error)
}

// Options wires the server's collaborators. Cache and Audit are optional.
type Options struct {
	Config   *config.Config
	Analyzer Analyzer
	Rules    []privacy.PatternRule
	Cache    *cache.Cache
	Audit    AuditStore
}

// Server represents the HTTP API server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	analyzer Analyzer
	rules    []privacy.PatternRule
	cache    *cache.Cache
	audit    AuditStore
	limiter  *security.RateLimiter
	metrics  *metrics
	router   *mux.Router
	handler  http.Handler
	server   *http.Server
	wsHub    *websocket.Hub
	started  time.Time
	cancel   context.CancelFunc

	totalAnalyses atomic.Int64
	totalFindings atomic.Int64
}

// New creates a new server instance
func New(opts Options, log *logger.Logger) (*Server, error) {
	if opts.Config == nil || opts.Analyzer == nil {
		return nil, errors.New("server: config and analyzer are required")
	}
	cfg := opts.Config

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		analyzer: opts.Analyzer,
		rules:    opts.Rules,
		cache:    opts.Cache,
		audit:    opts.Audit,
		limiter: security.NewRateLimiter(security.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}),
		metrics: newMetrics(),
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	ws := cfg.WebSocket
	s.wsHub = websocket.NewHub(websocket.HubConfig{
		BroadcastAnalyses:    ws.Events.BroadcastAnalyses,
		BroadcastSystem:      ws.Events.BroadcastSystem,
		BroadcastConnections: ws.Events.BroadcastConnections,
		Username:             ws.Username,
		Password:             ws.Password,
		MaxConnections:       ws.MaxConnections,
		ReadBufferSize:       ws.ReadBufferSize,
		WriteBufferSize:      ws.WriteBufferSize,
		PingInterval:         ws.PingInterval,
		PongTimeout:          ws.PongTimeout,
		WriteTimeout:         ws.WriteTimeout,
		MaxMessageSize:       ws.MaxMessageSize,
		AllowedOrigins:       ws.AllowedOrigins,
	}, log)

	s.setupRoutes()

	s.handler = s.router
	if cfg.CORS.Enabled {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader, "Content-Disposition", "X-Cache"},
			MaxAge:         600,
		}).Handler(s.router)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handleAuditRecent).Methods(http.MethodGet)
	api.HandleFunc("/audit/stats", s.handleAuditStats).Methods(http.MethodGet)
}

// Handler returns the root handler, including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the background workers and serves until Stop is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startBackground(ctx)

	s.logger.Info("Starting PII Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.Strings("sources", s.analyzer.Sources()),
		zap.String("locale", s.analyzer.Locale()),
		zap.Int("rules", len(s.rules)),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("audit_enabled", s.audit != nil),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startBackground(ctx context.Context) {
	go s.wsHub.Run(ctx)
	s.limiter.StartCleanupRoutine(ctx, 30*time.Minute)
	go s.statusLoop(ctx)
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII Sentinel server")
	if s.cancel != nil {
		s.cancel()
	}
	return s.server.Shutdown(ctx)
}

// ApplyConfig applies the settings that can change without a restart.
// Only rate limits are reloaded; everything else needs a new process.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.limiter.Reconfigure(security.RateLimitConfig{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	s.logger.Info("Configuration reloaded",
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute),
		zap.Int("burst", cfg.RateLimit.Burst),
	)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data:      s.systemStatus(),
			})
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		TotalAnalyses:    s.totalAnalyses.Load(),
		TotalFindings:    s.totalFindings.Load(),
		ActiveRules:      len(s.rules),
		ConnectedClients: s.wsHub.ClientCount(),
	}
}
