// Package collector gathers the user facts needed to pick and personalize messages.
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/reengage/internal/models"
)

// Collector reads user data from the training platform tables
type Collector struct {
	db     *sql.DB
	stats  *StatsCache
	now    func() time.Time
	logger *slog.Logger
}

// Options configures a Collector
type Options struct {
	StatsTTL time.Duration
	Now      func() time.Time
}

// New creates a collector
func New(db *sql.DB, opts Options, logger *slog.Logger) *Collector {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Collector{
		db:     db,
		now:    opts.Now,
		logger: logger,
	}
	c.stats = NewStatsCache(c.loadPlatformStats, opts.StatsTTL, opts.Now)
	return c
}

// Stats exposes the platform stats cache
func (c *Collector) Stats() *StatsCache {
	return c.stats
}

// Collect builds UserData for one user. Platform stats are optional: a
// failure to load them is logged and the field stays nil.
func (c *Collector) Collect(ctx context.Context, userID string) (*models.UserData, error) {
	data := &models.UserData{UserID: userID}

	err := c.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, userID).Scan(&data.Username)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT name FROM dogs WHERE user_id = ? ORDER BY created_at ASC LIMIT 1`, userID,
	).Scan(&data.DogName)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load dog for user %s: %w", userID, err)
	}

	courses, err := c.completedCourses(ctx, userID)
	if err != nil {
		return nil, err
	}
	data.CompletedCourses = courses

	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM training_steps WHERE user_id = ? AND completed = 1`, userID,
	).Scan(&data.TotalSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to count steps for user %s: %w", userID, err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT c.name FROM training_steps s
		JOIN courses c ON c.id = s.course_id
		WHERE s.user_id = ? AND s.completed = 1
		ORDER BY s.updated_at DESC LIMIT 1`, userID,
	).Scan(&data.LastCourse)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load last course for user %s: %w", userID, err)
	}

	stats, err := c.stats.Get(ctx)
	if err != nil {
		c.logger.Warn("platform stats unavailable", "user_id", userID, "error", err)
	} else {
		data.Stats = stats
	}

	return data, nil
}

func (c *Collector) completedCourses(ctx context.Context, userID string) ([]models.CompletedCourse, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.id, c.name, COALESCE(r.rating, 0), uc.completed_at
		FROM user_courses uc
		JOIN courses c ON c.id = uc.course_id
		LEFT JOIN course_reviews r ON r.user_id = uc.user_id AND r.course_id = uc.course_id
		WHERE uc.user_id = ? AND uc.completed_at IS NOT NULL
		ORDER BY uc.completed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load courses for user %s: %w", userID, err)
	}
	defer rows.Close()

	courses := []models.CompletedCourse{}
	for rows.Next() {
		var cc models.CompletedCourse
		if err := rows.Scan(&cc.ID, &cc.Name, &cc.Rating, &cc.CompletedAt); err != nil {
			return nil, err
		}
		courses = append(courses, cc)
	}
	return courses, rows.Err()
}

func (c *Collector) loadPlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	now := c.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats := &models.PlatformStats{}

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_courses WHERE completed_at >= ?`, now.AddDate(0, 0, -7),
	).Scan(&stats.WeeklyCompletions)
	if err != nil {
		return nil, fmt.Errorf("failed to count weekly completions: %w", err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM training_steps
		WHERE completed = 1 AND updated_at >= ?`, dayStart,
	).Scan(&stats.ActiveTodayUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}

	return stats, nil
}
