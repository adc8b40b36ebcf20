// Package scheduler ties inactivity analysis, campaign creation and job
// dispatch together on a recurring cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/reengage/internal/campaign"
	"github.com/foxzi/reengage/internal/lock"
	"github.com/foxzi/reengage/internal/metrics"
	"github.com/foxzi/reengage/internal/models"
	"github.com/foxzi/reengage/internal/queue"
)

// ErrRunInProgress is returned when another run holds the run lock
var ErrRunInProgress = errors.New("scheduler run already in progress")

// InactiveUserFinder finds users eligible for a campaign
type InactiveUserFinder interface {
	FindInactiveUsers(ctx context.Context) ([]models.InactiveUser, error)
}

// CampaignStore is the part of the campaign manager the scheduler drives
type CampaignStore interface {
	CheckAndCloseReturnedCampaigns(ctx context.Context) (int, error)
	CreateCampaign(ctx context.Context, userID string, lastActivity time.Time) (string, error)
	DueCampaigns(ctx context.Context) ([]*models.Campaign, error)
}

// JobQueue accepts delivery jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// Result summarizes one run
type Result struct {
	NewCampaigns           int `json:"new_campaigns"`
	ScheduledNotifications int `json:"scheduled_notifications"`
	ClosedCampaigns        int `json:"closed_campaigns"`
}

// Scheduler runs the re-engagement pipeline
type Scheduler struct {
	analyzer    InactiveUserFinder
	campaigns   CampaignStore
	queue       JobQueue
	lock        lock.Locker
	concurrency int
	logger      *slog.Logger
}

// New creates a scheduler. A nil locker means an in-process lock.
func New(analyzer InactiveUserFinder, campaigns CampaignStore, q JobQueue, locker lock.Locker, concurrency int, logger *slog.Logger) *Scheduler {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		analyzer:    analyzer,
		campaigns:   campaigns,
		queue:       q,
		lock:        locker,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run executes one pass: close campaigns of returned users, start campaigns
// for newly inactive users, then queue every due campaign at its current
// level. Per-user failures are logged and skipped.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	ok, err := s.lock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		metrics.ObserveSchedulerRun("skipped", 0)
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := s.lock.Unlock(context.Background()); err != nil {
			s.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	start := time.Now()
	result, err := s.run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		metrics.ObserveSchedulerRun("error", elapsed.Seconds())
		s.logger.Error("scheduler run failed", "error", err, "duration", elapsed)
		return nil, err
	}

	metrics.ObserveSchedulerRun("success", elapsed.Seconds())
	s.logger.Info("scheduler run completed",
		"new_campaigns", result.NewCampaigns,
		"scheduled_notifications", result.ScheduledNotifications,
		"closed_campaigns", result.ClosedCampaigns,
		"duration", elapsed,
	)

	return result, nil
}

func (s *Scheduler) run(ctx context.Context) (*Result, error) {
	result := &Result{}

	closed, err := s.campaigns.CheckAndCloseReturnedCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to close returned campaigns: %w", err)
	}
	result.ClosedCampaigns = closed

	users, err := s.analyzer.FindInactiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find inactive users: %w", err)
	}

	var created, scheduled atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, user := range users {
		if user.HasActiveCampaign {
			continue
		}
		g.Go(func() error {
			newCampaign, queued := s.startCampaign(ctx, user)
			if newCampaign {
				created.Add(1)
			}
			if queued {
				scheduled.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	due, err := s.campaigns.DueCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load due campaigns: %w", err)
	}

	for _, c := range due {
		if s.enqueue(ctx, c.ID, c.UserID, c.CurrentLevel) {
			scheduled.Add(1)
		}
	}

	result.NewCampaigns = int(created.Load())
	result.ScheduledNotifications = int(scheduled.Load())

	return result, nil
}

// startCampaign creates a campaign for one user and queues its first level
func (s *Scheduler) startCampaign(ctx context.Context, user models.InactiveUser) (created, queued bool) {
	logger := s.logger.With("user_id", user.UserID)

	id, err := s.campaigns.CreateCampaign(ctx, user.UserID, user.LastActivityDate)
	if errors.Is(err, campaign.ErrActiveCampaignExists) {
		logger.Debug("user already has an active campaign")
		return false, false
	}
	if err != nil {
		logger.Error("failed to create campaign", "error", err)
		return false, false
	}

	logger.Info("campaign created",
		"campaign_id", id,
		"days_inactive", user.DaysSinceActivity,
	)

	return true, s.enqueue(ctx, id, user.UserID, 1)
}

// enqueue queues a delivery job. A job already waiting for the campaign
// is left alone and not counted.
func (s *Scheduler) enqueue(ctx context.Context, campaignID, userID string, level int) bool {
	err := s.queue.Enqueue(ctx, queue.NewJob(campaignID, userID, level))
	if errors.Is(err, queue.ErrDuplicateJob) {
		s.logger.Debug("job already queued", "campaign_id", campaignID, "level", level)
		return false
	}
	if err != nil {
		s.logger.Error("failed to enqueue job",
			"campaign_id", campaignID,
			"user_id", userID,
			"level", level,
			"error", err,
		)
		return false
	}

	metrics.IncJobsEnqueued(level)
	return true
}
