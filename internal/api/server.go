// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/metrics"
	"github.com/snapshot-refresher/internal/models"
	"github.com/snapshot-refresher/internal/service"
)

// Service interfaces for dependency injection and testing

// RefreshServiceInterface defines the trigger and status operations
type RefreshServiceInterface interface {
	StartRefresh(ctx context.Context, opts service.RefreshOptions) (*models.Snapshot, error)
	GetStatus(ctx context.Context, snapshotID string) (*service.StatusView, error)
	GetLatestSummary(ctx context.Context) (*service.LatestSummary, error)
}

// PositionServiceInterface defines the position listing operations
type PositionServiceInterface interface {
	Assets(ctx context.Context, snapshotID string, filter service.PositionFilter) ([]service.AssetView, error)
	Liabilities(ctx context.Context, snapshotID string, filter service.PositionFilter) ([]service.LiabilityView, error)
}

// FXServiceInterface defines the conversion rate lookup
type FXServiceInterface interface {
	USDToEUR(ctx context.Context) (*service.FXRate, error)
}

// Server represents the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	refreshService  RefreshServiceInterface
	positionService PositionServiceInterface
	fxService       FXServiceInterface
	metrics         *metrics.Recorder
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RefreshPerMinute limits refresh triggers per client IP
	RefreshPerMinute int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	refreshService RefreshServiceInterface,
	positionService PositionServiceInterface,
	fxService FXServiceInterface,
	recorder *metrics.Recorder,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		refreshService:  refreshService,
		positionService: positionService,
		fxService:       fxService,
		metrics:         recorder,
		config:          config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(CompressionMiddleware)

	// Refresh trigger is rate limited per client; reads are not
	limiter := NewRateLimiter(s.config.RefreshPerMinute)
	api.Handle("/refresh", RateLimitMiddleware(limiter)(http.HandlerFunc(s.handleStartRefresh))).Methods("POST")
	api.HandleFunc("/refresh/{snapshotId}/status", s.handleGetStatus).Methods("GET")

	api.HandleFunc("/snapshots/latest/summary", s.handleLatestSummary).Methods("GET")
	api.HandleFunc("/snapshots/{snapshotId}/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/snapshots/{snapshotId}/liabilities", s.handleListLiabilities).Methods("GET")
	api.HandleFunc("/snapshots/{snapshotId}/positions/{protocol}", s.handleListProtocolPositions).Methods("GET")

	api.HandleFunc("/fx/usd-eur", s.handleUSDToEUR).Methods("GET")
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "snapshot-refresher",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
