// Package analyzer finds users who stopped training.
package analyzer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/reengage/internal/models"
)

const (
	DefaultMinDaysInactive   = 5
	DefaultMinCompletedSteps = 2
	DefaultMaxAnalysisDays   = 60
)

// Config holds inactivity thresholds
type Config struct {
	MinDaysInactive   int
	MinCompletedSteps int
	MaxAnalysisDays   int // bounds the coarse scan window
}

// Analyzer classifies users as inactive
type Analyzer struct {
	db     *sql.DB
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates an analyzer. A nil clock means time.Now.
func New(db *sql.DB, cfg Config, now func() time.Time, logger *slog.Logger) *Analyzer {
	if cfg.MinDaysInactive <= 0 {
		cfg.MinDaysInactive = DefaultMinDaysInactive
	}
	if cfg.MinCompletedSteps <= 0 {
		cfg.MinCompletedSteps = DefaultMinCompletedSteps
	}
	if cfg.MaxAnalysisDays <= 0 {
		cfg.MaxAnalysisDays = DefaultMaxAnalysisDays
	}
	if now == nil {
		now = time.Now
	}

	return &Analyzer{db: db, cfg: cfg, now: now, logger: logger}
}

// FindInactiveUsers returns every user eligible for re-engagement.
// Any data store error aborts the whole scan.
func (a *Analyzer) FindInactiveUsers(ctx context.Context) ([]models.InactiveUser, error) {
	now := a.now().UTC()
	windowStart := now.AddDate(0, 0, -a.cfg.MaxAnalysisDays)

	candidates, err := a.recentlyActiveUsers(ctx, windowStart)
	if err != nil {
		a.logger.Error("failed to scan user activity", "error", err)
		return nil, err
	}

	var result []models.InactiveUser
	for _, userID := range candidates {
		user, ok, err := a.inspect(ctx, userID, now)
		if err != nil {
			a.logger.Error("failed to analyze user", "user_id", userID, "error", err)
			return nil, err
		}
		if ok {
			result = append(result, user)
		}
	}

	a.logger.Info("inactivity analysis complete",
		"candidates", len(candidates),
		"inactive", len(result),
	)

	return result, nil
}

// recentlyActiveUsers returns users with a completed step inside the window
func (a *Analyzer) recentlyActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM training_steps
		WHERE completed = 1 AND updated_at >= ?
		ORDER BY user_id`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (a *Analyzer) inspect(ctx context.Context, userID string, now time.Time) (models.InactiveUser, bool, error) {
	user := models.InactiveUser{UserID: userID}

	last, err := a.GetLastActivityDate(ctx, userID)
	if err != nil {
		return user, false, err
	}
	if last == nil {
		return user, false, nil
	}

	user.LastActivityDate = *last
	user.DaysSinceActivity = DaysBetween(*last, now)
	if user.DaysSinceActivity < a.cfg.MinDaysInactive {
		return user, false, nil
	}

	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM training_steps WHERE user_id = ? AND completed = 1`, userID,
	).Scan(&user.TotalCompletions)
	if err != nil {
		return user, false, fmt.Errorf("failed to count completions: %w", err)
	}
	if user.TotalCompletions < a.cfg.MinCompletedSteps {
		return user, false, nil
	}

	settings, err := a.settings(ctx, userID)
	if err != nil {
		return user, false, err
	}
	if settings != nil && settings.OptedOut() {
		return user, false, nil
	}

	var active int
	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaigns WHERE user_id = ? AND is_active = 1`, userID,
	).Scan(&active)
	if err != nil {
		return user, false, fmt.Errorf("failed to check campaigns: %w", err)
	}
	user.HasActiveCampaign = active > 0

	return user, true, nil
}

func (a *Analyzer) settings(ctx context.Context, userID string) (*models.ReengagementSettings, error) {
	s := &models.ReengagementSettings{UserID: userID}
	var unsub sql.NullTime

	err := a.db.QueryRowContext(ctx, `
		SELECT enabled, unsubscribed_at FROM reengagement_settings WHERE user_id = ?`, userID,
	).Scan(&s.Enabled, &unsub)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if unsub.Valid {
		t := unsub.Time
		s.UnsubscribedAt = &t
	}
	return s, nil
}

// GetLastActivityDate returns the latest completed step time, or nil
func (a *Analyzer) GetLastActivityDate(ctx context.Context, userID string) (*time.Time, error) {
	var last time.Time
	err := a.db.QueryRowContext(ctx, `
		SELECT updated_at FROM training_steps
		WHERE user_id = ? AND completed = 1
		ORDER BY updated_at DESC LIMIT 1`, userID,
	).Scan(&last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last activity: %w", err)
	}

	last = last.UTC()
	return &last, nil
}

// CheckUserReturned reports whether the user completed a step at or after since
func (a *Analyzer) CheckUserReturned(ctx context.Context, userID string, since time.Time) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM training_steps
		WHERE user_id = ? AND completed = 1 AND updated_at >= ?`, userID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check return of user %s: %w", userID, err)
	}
	return n > 0, nil
}

// DaysBetween returns whole days elapsed from since to now, rounded down
func DaysBetween(since, now time.Time) int {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
