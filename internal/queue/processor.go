package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Handler processes a single job
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// FailureHandler is told about jobs that used up all attempts
type FailureHandler interface {
	HandleFailure(ctx context.Context, job *Job, err error)
}

// ErrorChecker reports whether an error is worth retrying
type ErrorChecker func(err error) bool

// Processor processes the job queue
type Processor struct {
	queue           Queue
	handler         Handler
	onFailure       FailureHandler
	workers         int
	backoff         time.Duration
	maxBackoff      time.Duration
	processInterval time.Duration
	handleTimeout   time.Duration
	isTemporary     ErrorChecker
	limiter         *rate.Limiter
	logger          *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	Backoff         time.Duration
	MaxBackoff      time.Duration
	ProcessInterval time.Duration
	HandleTimeout   time.Duration
	// RateLimit caps handled jobs per second; zero means unlimited
	RateLimit float64
	RateBurst int
}

// NewProcessor creates a new queue processor
func NewProcessor(q Queue, handler Handler, cfg ProcessorConfig, isTemp ErrorChecker, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 5 * time.Second
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = time.Minute
	}
	if isTemp == nil {
		isTemp = func(err error) bool { return true }
	}

	p := &Processor{
		queue:           q,
		handler:         handler,
		workers:         cfg.Workers,
		backoff:         cfg.Backoff,
		maxBackoff:      cfg.MaxBackoff,
		processInterval: cfg.ProcessInterval,
		handleTimeout:   cfg.HandleTimeout,
		isTemporary:     isTemp,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return p
}

// SetFailureHandler sets the callback for jobs moved to the DLQ
func (p *Processor) SetFailureHandler(h FailureHandler) {
	p.onFailure = h
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting queue processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.logger.Info("stopping queue processor")
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("queue processor stopped")
}

// Drain processes jobs until none is ready and returns how many were handled
func (p *Processor) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil && p.processOne(ctx, p.logger) {
		n++
	}
	return n
}

// worker is the main processing loop
func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
			for !p.stopped() && p.processOne(ctx, logger) {
			}
		}
	}
}

func (p *Processor) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// processOne handles the next ready job. Returns false when the queue had
// nothing to hand out.
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) bool {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue job", "error", err)
		return false
	}

	if job == nil {
		return false // Queue is empty
	}

	logger = logger.With("job_id", job.ID, "campaign_id", job.CampaignID, "level", job.Level)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			// Shutting down: hand the job back untouched
			job.Status = StatusPending
			if err := p.queue.Update(context.Background(), job); err != nil {
				logger.Error("failed to requeue job", "error", err)
			}
			return false
		}
	}

	logger.Debug("processing job", "attempt", job.Attempts+1)

	handleCtx, cancel := context.WithTimeout(ctx, p.handleTimeout)
	err = p.handler.Handle(handleCtx, job)
	cancel()

	if err == nil {
		if err := p.queue.Complete(ctx, job.ID); err != nil {
			logger.Error("failed to complete job", "error", err)
		}
		logger.Debug("job completed")
		return true
	}

	job.Attempts++
	job.LastError = err.Error()

	if p.isTemporary(err) && job.Attempts < job.MaxAttempts {
		backoff := p.calculateBackoff(job.Attempts)
		job.Status = StatusDeferred
		job.NextRetryAt = time.Now().Add(backoff)

		logger.Warn("job deferred",
			"error", err,
			"attempts", job.Attempts,
			"next_retry_at", job.NextRetryAt,
			"backoff", backoff,
		)

		if err := p.queue.Update(ctx, job); err != nil {
			logger.Error("failed to update job status", "error", err)
		}
		return true
	}

	logger.Error("job failed permanently",
		"error", err,
		"attempts", job.Attempts,
		"max_attempts", job.MaxAttempts,
	)

	if err := p.queue.MoveToDLQ(ctx, job); err != nil {
		logger.Error("failed to move job to DLQ", "error", err)
	}
	if p.onFailure != nil {
		p.onFailure.HandleFailure(ctx, job, err)
	}

	return true
}

// calculateBackoff returns backoff * 2^(attempts-1), capped at maxBackoff
func (p *Processor) calculateBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 30 {
		return p.maxBackoff
	}

	backoff := p.backoff * time.Duration(1<<(attempts-1))
	if backoff > p.maxBackoff || backoff <= 0 {
		return p.maxBackoff
	}

	return backoff
}
