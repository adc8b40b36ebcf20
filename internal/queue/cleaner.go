package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains cleanup settings
type CleanerConfig struct {
	// Jobs stuck in sending state, e.g. after a crash
	StaleAfter    time.Duration
	StaleInterval time.Duration

	// DLQ retention
	DLQMaxAge   time.Duration
	DLQMaxCount int
	DLQInterval time.Duration
}

// Cleaner handles automatic queue maintenance
type Cleaner struct {
	storage *BoltStorage
	cfg     CleanerConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewCleaner creates a new cleaner service
func NewCleaner(storage *BoltStorage, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		storage: storage,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start starts the cleanup goroutines
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.StaleAfter > 0 && c.cfg.StaleInterval > 0 {
		c.wg.Add(1)
		go c.loop(ctx, c.cfg.StaleInterval, c.runStaleRecovery)
	}

	if (c.cfg.DLQMaxAge > 0 || c.cfg.DLQMaxCount > 0) && c.cfg.DLQInterval > 0 {
		c.wg.Add(1)
		go c.loop(ctx, c.cfg.DLQInterval, c.runDLQCleanup)
	}

	c.logger.Info("cleaner started",
		"stale_after", c.cfg.StaleAfter,
		"dlq_max_age", c.cfg.DLQMaxAge,
		"dlq_max_count", c.cfg.DLQMaxCount,
		"dlq_interval", c.cfg.DLQInterval,
	)
}

// Stop stops the cleaner and waits for goroutines to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
	c.logger.Info("cleaner stopped")
}

func (c *Cleaner) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on start
	run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func (c *Cleaner) runStaleRecovery(ctx context.Context) {
	recovered, err := c.storage.RecoverStale(ctx, c.cfg.StaleAfter)
	if err != nil {
		c.logger.Error("failed to recover stale jobs", "error", err)
		return
	}

	if recovered > 0 {
		c.logger.Warn("requeued stale jobs", "recovered", recovered)
	}
}

func (c *Cleaner) runDLQCleanup(ctx context.Context) {
	deleted, err := c.storage.CleanupDLQ(ctx, c.cfg.DLQMaxAge, c.cfg.DLQMaxCount)
	if err != nil {
		c.logger.Error("failed to cleanup DLQ", "error", err)
		return
	}

	if deleted > 0 {
		c.logger.Info("cleaned up DLQ jobs", "deleted", deleted)
	}
}
