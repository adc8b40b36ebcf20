package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/foxzi/reengage/internal/models"
)

// Recorder computes and stores end-of-day aggregates
type Recorder struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewRecorder creates a daily metrics recorder
func NewRecorder(db *sql.DB, now func() time.Time, logger *slog.Logger) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{db: db, now: now, logger: logger}
}

// RecordDailyMetrics aggregates the current UTC day and upserts its row.
// Rates are zero when nothing was sent.
func (r *Recorder) RecordDailyMetrics(ctx context.Context) (*models.DailyMetrics, error) {
	now := r.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	dm := &models.DailyMetrics{
		Date:        start.Format(time.DateOnly),
		SentByLevel: make(map[int]int),
		SentByType:  make(map[models.MessageType]int),
		CreatedAt:   now,
	}

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE is_active = 1`).Scan(&dm.ActiveCampaigns)
	if err != nil {
		return nil, fmt.Errorf("failed to count active campaigns: %w", err)
	}

	var clicked int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(clicked), 0) FROM notifications
		WHERE sent = 1 AND sent_at >= ? AND sent_at < ?`, start, end,
	).Scan(&dm.NotificationsSent, &clicked)
	if err != nil {
		return nil, fmt.Errorf("failed to count sent notifications: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaigns WHERE returned = 1 AND returned_at >= ? AND returned_at < ?`, start, end,
	).Scan(&dm.CampaignsReturned)
	if err != nil {
		return nil, fmt.Errorf("failed to count returned campaigns: %w", err)
	}

	if err := r.breakdown(ctx, `level`, start, end, func(key string, n int) {
		level, _ := strconv.Atoi(key)
		dm.SentByLevel[level] = n
	}); err != nil {
		return nil, err
	}
	if err := r.breakdown(ctx, `message_type`, start, end, func(key string, n int) {
		dm.SentByType[models.MessageType(key)] = n
	}); err != nil {
		return nil, err
	}

	if dm.NotificationsSent > 0 {
		dm.ClickRate = float64(clicked) / float64(dm.NotificationsSent)
		dm.ReturnRate = float64(dm.CampaignsReturned) / float64(dm.NotificationsSent)
	}

	byLevel, err := json.Marshal(dm.SentByLevel)
	if err != nil {
		return nil, err
	}
	byType, err := json.Marshal(dm.SentByType)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO daily_metrics (date, active_campaigns, notifications_sent, campaigns_returned,
			sent_by_level, sent_by_type, click_rate, return_rate, open_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(date) DO UPDATE SET
			active_campaigns = excluded.active_campaigns,
			notifications_sent = excluded.notifications_sent,
			campaigns_returned = excluded.campaigns_returned,
			sent_by_level = excluded.sent_by_level,
			sent_by_type = excluded.sent_by_type,
			click_rate = excluded.click_rate,
			return_rate = excluded.return_rate,
			open_rate = NULL,
			created_at = excluded.created_at`,
		dm.Date, dm.ActiveCampaigns, dm.NotificationsSent, dm.CampaignsReturned,
		string(byLevel), string(byType), dm.ClickRate, dm.ReturnRate, dm.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to store daily metrics", "date", dm.Date, "error", err)
		return nil, fmt.Errorf("failed to store daily metrics: %w", err)
	}

	SetActiveCampaigns(dm.ActiveCampaigns)
	r.logger.Info("daily metrics recorded",
		"date", dm.Date,
		"active_campaigns", dm.ActiveCampaigns,
		"notifications_sent", dm.NotificationsSent,
		"campaigns_returned", dm.CampaignsReturned,
		"click_rate", dm.ClickRate,
		"return_rate", dm.ReturnRate,
	)

	return dm, nil
}

// breakdown counts the day's sent notifications grouped by column
func (r *Recorder) breakdown(ctx context.Context, column string, start, end time.Time, add func(key string, n int)) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*) FROM notifications
		WHERE sent = 1 AND sent_at >= ? AND sent_at < ?
		GROUP BY `+column, start, end)
	if err != nil {
		return fmt.Errorf("failed to group notifications by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

// GetDailyMetrics returns the row for a YYYY-MM-DD date, or nil
func (r *Recorder) GetDailyMetrics(ctx context.Context, date string) (*models.DailyMetrics, error) {
	dm := &models.DailyMetrics{Date: date}
	var (
		byLevel, byType sql.NullString
		openRate        sql.NullFloat64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT active_campaigns, notifications_sent, campaigns_returned, sent_by_level, sent_by_type,
			click_rate, return_rate, open_rate, created_at
		FROM daily_metrics WHERE date = ?`, date,
	).Scan(&dm.ActiveCampaigns, &dm.NotificationsSent, &dm.CampaignsReturned, &byLevel, &byType,
		&dm.ClickRate, &dm.ReturnRate, &openRate, &dm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily metrics: %w", err)
	}

	dm.SentByLevel = make(map[int]int)
	dm.SentByType = make(map[models.MessageType]int)
	if byLevel.Valid && byLevel.String != "" {
		if err := json.Unmarshal([]byte(byLevel.String), &dm.SentByLevel); err != nil {
			return nil, fmt.Errorf("failed to decode sent_by_level: %w", err)
		}
	}
	if byType.Valid && byType.String != "" {
		if err := json.Unmarshal([]byte(byType.String), &dm.SentByType); err != nil {
			return nil, fmt.Errorf("failed to decode sent_by_type: %w", err)
		}
	}
	if openRate.Valid {
		v := openRate.Float64
		dm.OpenRate = &v
	}

	return dm, nil
}
