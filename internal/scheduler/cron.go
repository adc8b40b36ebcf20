package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/foxzi/reengage/internal/models"
)

// DailyRecorder writes the daily metrics row
type DailyRecorder interface {
	RecordDailyMetrics(ctx context.Context) (*models.DailyMetrics, error)
}

// CronConfig contains trigger settings
type CronConfig struct {
	// Spec is the run schedule in standard five-field cron syntax
	Spec       string
	RunOnStart bool
	// MetricsSpec schedules the daily metrics row; empty disables it
	MetricsSpec string
}

// Cron triggers scheduler runs and daily metrics on a schedule
type Cron struct {
	scheduler *Scheduler
	recorder  DailyRecorder
	cfg       CronConfig
	cron      *cron.Cron
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewCron registers the configured jobs. The recorder may be nil.
func NewCron(s *Scheduler, recorder DailyRecorder, cfg CronConfig, logger *slog.Logger) (*Cron, error) {
	if cfg.Spec == "" {
		cfg.Spec = "0 10 * * *"
	}

	c := &Cron{
		scheduler: s,
		recorder:  recorder,
		cfg:       cfg,
		cron:      cron.New(),
		logger:    logger,
	}

	if _, err := c.cron.AddFunc(cfg.Spec, c.runScheduler); err != nil {
		return nil, fmt.Errorf("invalid scheduler cron %q: %w", cfg.Spec, err)
	}

	if recorder != nil && cfg.MetricsSpec != "" {
		if _, err := c.cron.AddFunc(cfg.MetricsSpec, c.recordMetrics); err != nil {
			return nil, fmt.Errorf("invalid metrics cron %q: %w", cfg.MetricsSpec, err)
		}
	}

	return c, nil
}

// Start starts the cron loop in its own goroutine
func (c *Cron) Start() {
	c.cron.Start()
	c.logger.Info("scheduler cron started",
		"spec", c.cfg.Spec,
		"metrics_spec", c.cfg.MetricsSpec,
	)

	if c.cfg.RunOnStart {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runScheduler()
		}()
	}
}

// Stop stops the cron and waits for running jobs, including the start-up run
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
	c.wg.Wait()
	c.logger.Info("scheduler cron stopped")
}

func (c *Cron) runScheduler() {
	_, err := c.scheduler.Run(context.Background())
	if errors.Is(err, ErrRunInProgress) {
		c.logger.Warn("skipping scheduled run, previous run still in progress")
		return
	}
	// Other errors are logged by Run
}

func (c *Cron) recordMetrics() {
	m, err := c.recorder.RecordDailyMetrics(context.Background())
	if err != nil {
		c.logger.Error("failed to record daily metrics", "error", err)
		return
	}
	c.logger.Info("daily metrics recorded",
		"date", m.Date,
		"notifications_sent", m.NotificationsSent,
		"campaigns_returned", m.CampaignsReturned,
	)
}
