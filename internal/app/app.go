package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/reengage/internal/analyzer"
	"github.com/foxzi/reengage/internal/api"
	"github.com/foxzi/reengage/internal/campaign"
	"github.com/foxzi/reengage/internal/collector"
	"github.com/foxzi/reengage/internal/config"
	"github.com/foxzi/reengage/internal/db"
	"github.com/foxzi/reengage/internal/dispatch"
	"github.com/foxzi/reengage/internal/lock"
	"github.com/foxzi/reengage/internal/messages"
	"github.com/foxzi/reengage/internal/metrics"
	"github.com/foxzi/reengage/internal/push"
	"github.com/foxzi/reengage/internal/queue"
	"github.com/foxzi/reengage/internal/scheduler"
)

// App is the main application
type App struct {
	config           *config.Config
	version          string
	logger           *slog.Logger
	db               *db.DB
	storage          *queue.BoltStorage
	campaigns        *campaign.Manager
	recorder         *metrics.Recorder
	scheduler        *scheduler.Scheduler
	cron             *scheduler.Cron
	processor        *queue.Processor
	cleaner          *queue.Cleaner
	redisLock        *lock.Redis
	apiServer        *api.Server
	metrics          *metrics.Metrics
	metricsCollector *metrics.Collector
	metricsServer    *metrics.Server
}

// New creates a new application. Nothing runs until Run is called.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		config:  cfg,
		version: version,
		logger:  setupLogger(cfg.Logging),
	}

	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *App) init() error {
	cfg := a.config
	logger := a.logger

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = database

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	storage, err := queue.NewBoltStorage(cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	storage.SetMaxAttempts(cfg.Queue.MaxAttempts)
	a.storage = storage

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
	}

	inactive := analyzer.New(database.DB, analyzer.Config{
		MinDaysInactive:   cfg.Analyzer.MinDaysInactive,
		MinCompletedSteps: cfg.Analyzer.MinCompletedSteps,
		MaxAnalysisDays:   cfg.Analyzer.MaxAnalysisDays,
	}, nil, logger.With("component", "analyzer"))

	a.campaigns = campaign.NewManager(database.DB, inactive, campaign.Options{
		Intervals: cfg.Campaign.Intervals,
	}, logger.With("component", "campaign"))

	a.recorder = metrics.NewRecorder(database.DB, nil, logger.With("component", "daily_metrics"))

	userData := collector.New(database.DB, collector.Options{
		StatsTTL: cfg.Stats.CacheTTL,
	}, logger.With("component", "collector"))

	sender, err := newSender(cfg.Push, logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(a.campaigns, userData, messages.NewSelector(nil), sender, logger.With("component", "dispatch"))

	a.processor = queue.NewProcessor(storage, dispatcher, queue.ProcessorConfig{
		Workers:         cfg.Queue.Workers,
		Backoff:         cfg.Queue.Backoff,
		MaxBackoff:      cfg.Queue.MaxBackoff,
		ProcessInterval: cfg.Queue.ProcessInterval,
		HandleTimeout:   cfg.Queue.HandleTimeout,
		RateLimit:       cfg.Queue.RateLimit,
		RateBurst:       cfg.Queue.RateBurst,
	}, push.IsTemporary, logger.With("component", "processor"))
	a.processor.SetFailureHandler(dispatcher)

	a.cleaner = queue.NewCleaner(storage, queue.CleanerConfig{
		StaleAfter:    cfg.Queue.Retention.StaleAfter,
		StaleInterval: cfg.Queue.Retention.CheckInterval,
		DLQMaxAge:     cfg.DLQ.MaxAge,
		DLQMaxCount:   cfg.DLQ.MaxCount,
		DLQInterval:   cfg.DLQ.CleanupInterval,
	}, logger.With("component", "cleaner"))

	// Without redis the run lock only guards this process
	var locker lock.Locker
	if cfg.Lock.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		redisLock, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
			Key:      cfg.Lock.Key,
			TTL:      cfg.Lock.TTL,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis lock: %w", err)
		}
		a.redisLock = redisLock
		locker = redisLock
		logger.Info("using redis run lock", "addr", cfg.Lock.RedisAddr, "key", cfg.Lock.Key)
	}

	a.scheduler = scheduler.New(inactive, a.campaigns, storage, locker, cfg.Scheduler.Concurrency, logger.With("component", "scheduler"))

	if cfg.Scheduler.IsEnabled() {
		a.cron, err = scheduler.NewCron(a.scheduler, a.recorder, scheduler.CronConfig{
			Spec:        cfg.Scheduler.Cron,
			RunOnStart:  cfg.Scheduler.RunOnStart,
			MetricsSpec: cfg.Scheduler.MetricsCron,
		}, logger.With("component", "cron"))
		if err != nil {
			return fmt.Errorf("failed to create cron: %w", err)
		}
	}

	if cfg.API.IsEnabled() {
		a.apiServer = api.NewServer(api.Deps{
			Scheduler: a.scheduler,
			Campaigns: a.campaigns,
			Metrics:   a.recorder,
			Queue:     storage,
			Version:   a.version,
		}, &cfg.API, logger.With("component", "api"))
	}

	if a.metrics != nil {
		a.metricsCollector, err = metrics.NewCollector(
			storage.DB(),
			a.metrics,
			queueStats{storage},
			a.campaigns,
			cfg.Queue.Path,
			cfg.Metrics.FlushInterval,
		)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}

		a.metricsServer = metrics.NewServer(
			a.metrics,
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
	}

	return nil
}

func newSender(cfg config.PushConfig, logger *slog.Logger) (push.Sender, error) {
	switch cfg.Mode {
	case "", "log":
		return push.NewLogSender(logger.With("component", "push")), nil
	case "webhook":
		return push.NewWebhookSender(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown push mode: %s", cfg.Mode)
	}
}

// queueStats adapts the job queue to the metrics collector
type queueStats struct {
	storage *queue.BoltStorage
}

func (q queueStats) Stats(ctx context.Context) (*metrics.QueueStats, error) {
	stats, err := q.storage.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.QueueStats{
		Pending:    stats.Pending,
		Sending:    stats.Sending,
		Deferred:   stats.Deferred,
		DeadLetter: stats.DeadLetter,
		Total:      stats.Total,
	}, nil
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Scheduler returns the campaign scheduler
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Campaigns returns the campaign manager
func (a *App) Campaigns() *campaign.Manager {
	return a.campaigns
}

// Recorder returns the daily metrics recorder
func (a *App) Recorder() *metrics.Recorder {
	return a.recorder
}

// Processor returns the job processor
func (a *App) Processor() *queue.Processor {
	return a.processor
}

// Run starts all components and blocks until a signal or a server error
func (a *App) Run(ctx context.Context) error {
	logAttrs := []any{
		"database", a.config.Database.Path,
		"queue", a.config.Queue.Path,
		"push_mode", a.config.Push.Mode,
	}
	if a.apiServer != nil {
		logAttrs = append(logAttrs, "api_addr", a.config.API.ListenAddr)
	}
	if a.cron != nil {
		logAttrs = append(logAttrs, "cron", a.config.Scheduler.Cron)
	}
	a.logger.Info("starting reengage", logAttrs...)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.processor.Start(ctx)
	a.cleaner.Start(ctx)

	if a.metricsCollector != nil {
		a.metricsCollector.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.cron != nil {
		a.cron.Start()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop triggers first so no new run starts
	if a.cron != nil {
		a.cron.Stop()
	}

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api server shutdown error", "error", err)
		}
	}

	a.processor.Stop()
	a.cleaner.Stop()

	// Persists counters
	if a.metricsCollector != nil {
		if err := a.metricsCollector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.close()

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage for one-shot commands that never called Run
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a.redisLock != nil {
		if err := a.redisLock.Close(); err != nil {
			a.logger.Error("redis lock close error", "error", err)
		}
		a.redisLock = nil
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("storage close error", "error", err)
		}
		a.storage = nil
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
		a.db = nil
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
