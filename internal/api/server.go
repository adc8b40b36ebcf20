// Package api serves the operator HTTP API: manual scheduler runs,
// unsubscribe and click tracking, campaign inspection and queue management.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/reengage/internal/config"
	"github.com/foxzi/reengage/internal/ipfilter"
	"github.com/foxzi/reengage/internal/metrics"
	"github.com/foxzi/reengage/internal/models"
	"github.com/foxzi/reengage/internal/queue"
	"github.com/foxzi/reengage/internal/scheduler"
)

// ScheduleRunner triggers a scheduler run
type ScheduleRunner interface {
	Run(ctx context.Context) (*scheduler.Result, error)
}

// CampaignService is the campaign manager surface used by the API
type CampaignService interface {
	UnsubscribeUser(ctx context.Context, userID string) (int, error)
	ResubscribeUser(ctx context.Context, userID string) error
	RecordClick(ctx context.Context, notificationID string) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filter models.CampaignListFilter) ([]*models.Campaign, error)
	ListNotifications(ctx context.Context, campaignID string) ([]*models.Notification, error)
}

// DailyMetricsStore records and reads daily metrics rows
type DailyMetricsStore interface {
	RecordDailyMetrics(ctx context.Context) (*models.DailyMetrics, error)
	GetDailyMetrics(ctx context.Context, date string) (*models.DailyMetrics, error)
}

// JobStore is the job queue with its dead letter queue
type JobStore interface {
	Stats(ctx context.Context) (*queue.QueueStats, error)
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error)
	Delete(ctx context.Context, id string) error
	DLQStats(ctx context.Context) (*queue.DLQStats, error)
	ListDLQ(ctx context.Context, limit, offset int) ([]*queue.Job, error)
	GetFromDLQ(ctx context.Context, id string) (*queue.Job, error)
	RetryFromDLQ(ctx context.Context, id string) error
	DeleteFromDLQ(ctx context.Context, id string) error
}

// Deps are the services behind the API
type Deps struct {
	Scheduler ScheduleRunner
	Campaigns CampaignService
	Metrics   DailyMetricsStore
	Queue     JobStore
	Version   string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	filter     *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	var opts []ipfilter.Option
	if cfg.TrustProxy {
		opts = append(opts, ipfilter.TrustForwardedHeaders())
	}

	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		filter:    ipfilter.New(cfg.AllowedIPs, logger, opts...),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, used by tests and the CLI
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.HTTPMiddleware)
		r.Use(s.authMiddleware)

		r.Post("/schedule/run", s.handleScheduleRun)

		r.Post("/users/{userID}/unsubscribe", s.handleUnsubscribe)
		r.Post("/users/{userID}/resubscribe", s.handleResubscribe)
		r.Post("/notifications/{id}/click", s.handleClick)

		r.Get("/campaigns", s.handleCampaigns)
		r.Get("/campaigns/{id}", s.handleCampaign)

		r.Get("/metrics/daily/{date}", s.handleDailyMetrics)
		r.Post("/metrics/daily", s.handleRecordDailyMetrics)

		r.Get("/queue", s.handleQueue)
		r.Delete("/queue/{id}", s.handleDeleteJob)
		r.Get("/queue/dlq", s.handleDLQ)
		r.Get("/queue/dlq/{id}", s.handleDLQGet)
		r.Post("/queue/dlq/{id}/retry", s.handleDLQRetry)
		r.Delete("/queue/dlq/{id}", s.handleDLQDelete)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server",
		"addr", s.config.ListenAddr,
		"ip_filter", s.filter.Enabled(),
	)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
