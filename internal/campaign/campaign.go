// Package campaign implements the re-engagement campaign state machine:
//
//	no campaign -> active(1) -> active(2) -> active(3) -> active(4) -> closed
//
// Any active campaign closes early when the user returns or unsubscribes.
package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/foxzi/reengage/internal/metrics"
	"github.com/foxzi/reengage/internal/models"
)

// MaxLevel is the last campaign level
const MaxLevel = 4

var (
	ErrNotFound             = errors.New("not found")
	ErrActiveCampaignExists = errors.New("user already has an active campaign")
)

// DefaultIntervals maps a level to days after the anchor date
var DefaultIntervals = map[int]int{1: 5, 2: 12, 3: 20, 4: 30}

// ReturnChecker tells whether a user came back after a point in time
type ReturnChecker interface {
	CheckUserReturned(ctx context.Context, userID string, since time.Time) (bool, error)
}

// Manager persists campaign transitions
type Manager struct {
	db        *sql.DB
	intervals map[int]int
	returns   ReturnChecker
	now       func() time.Time
	logger    *slog.Logger
}

// Options configures a Manager
type Options struct {
	Intervals map[int]int
	Now       func() time.Time
}

// NewManager creates a campaign manager
func NewManager(db *sql.DB, returns ReturnChecker, opts Options, logger *slog.Logger) *Manager {
	intervals := make(map[int]int, len(DefaultIntervals))
	for level, days := range DefaultIntervals {
		intervals[level] = days
	}
	for level, days := range opts.Intervals {
		intervals[level] = days
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		db:        db,
		intervals: intervals,
		returns:   returns,
		now:       opts.Now,
		logger:    logger,
	}
}

// NextNotificationDate returns the due date of a level, counted from the anchor
func (m *Manager) NextNotificationDate(anchor time.Time, level int) time.Time {
	return anchor.UTC().AddDate(0, 0, m.intervals[level])
}

// CreateCampaign starts a level 1 campaign. The caller is expected to have
// checked that the user has no active campaign; a concurrent creation is
// rejected by the database with ErrActiveCampaignExists.
func (m *Manager) CreateCampaign(ctx context.Context, userID string, lastActivity time.Time) (string, error) {
	now := m.now().UTC()
	id := uuid.New().String()
	next := m.NextNotificationDate(lastActivity, 1)

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, user_id, last_activity_date, campaign_start_date, current_level,
			next_notification_date, total_notifications_sent, is_active, returned, unsubscribed, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, 0, 1, 0, 0, ?, ?)`,
		id, userID, lastActivity.UTC(), now, next, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrActiveCampaignExists
		}
		m.logger.Error("failed to create campaign", "user_id", userID, "error", err)
		return "", fmt.Errorf("failed to create campaign: %w", err)
	}

	metrics.IncCampaignsCreated()
	m.logger.Info("campaign created",
		"campaign_id", id,
		"user_id", userID,
		"last_activity", lastActivity,
		"next_notification", next,
	)

	return id, nil
}

// UpdateCampaignAfterSend records a delivery outcome and advances the campaign.
// A level 4 campaign is closed instead of advanced. Calling it twice for the
// same notification is a no-op.
func (m *Manager) UpdateCampaignAfterSend(ctx context.Context, campaignID, notificationID string, successCount, failedCount int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		notifCampaign string
		notifLevel    int
		sent          bool
	)
	err = tx.QueryRowContext(ctx, `SELECT campaign_id, level, sent FROM notifications WHERE id = ?`, notificationID).
		Scan(&notifCampaign, &notifLevel, &sent)
	if err == sql.ErrNoRows {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if notifCampaign != campaignID {
		return fmt.Errorf("notification %s belongs to campaign %s, not %s", notificationID, notifCampaign, campaignID)
	}
	if sent {
		m.logger.Debug("notification already recorded as sent", "campaign_id", campaignID, "notification_id", notificationID)
		return nil
	}

	var (
		level  int
		active bool
		anchor time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT current_level, is_active, last_activity_date FROM campaigns WHERE id = ?`, campaignID).
		Scan(&level, &active, &anchor)
	if err == sql.ErrNoRows {
		return fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	now := m.now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE notifications SET sent = 1, sent_at = ?, success_count = ?, failed_count = ?
		WHERE id = ? AND sent = 0`,
		now, successCount, failedCount, notificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	var (
		outcome string
		next    *time.Time
	)
	switch {
	case !active || notifLevel != level:
		// Closed or advanced while the message was in flight: count it, change nothing else
		outcome = "recorded"
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET total_notifications_sent = total_notifications_sent + 1,
				last_notification_sent = ?, updated_at = ?
			WHERE id = ?`, now, now, campaignID)
	case level >= MaxLevel:
		outcome = "completed"
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET is_active = 0, next_notification_date = NULL,
				total_notifications_sent = total_notifications_sent + 1,
				last_notification_sent = ?, updated_at = ?
			WHERE id = ?`, now, now, campaignID)
	default:
		outcome = "advanced"
		n := m.NextNotificationDate(anchor, level+1)
		next = &n
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET current_level = ?, next_notification_date = ?,
				total_notifications_sent = total_notifications_sent + 1,
				last_notification_sent = ?, updated_at = ?
			WHERE id = ?`, level+1, n, now, now, campaignID)
	}
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if outcome == "completed" {
		metrics.IncCampaignsClosed("completed")
	}
	m.logger.Info("campaign updated after send",
		"campaign_id", campaignID,
		"notification_id", notificationID,
		"level", level,
		"outcome", outcome,
		"success", successCount,
		"failed", failedCount,
		"next_notification", next,
	)

	return nil
}

// CloseCampaign deactivates a campaign, marking it returned when asked
func (m *Manager) CloseCampaign(ctx context.Context, campaignID string, returned bool) error {
	now := m.now().UTC()

	var returnedAt any
	if returned {
		returnedAt = now
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE campaigns SET is_active = 0, next_notification_date = NULL,
			returned = CASE WHEN ? THEN 1 ELSE returned END,
			returned_at = COALESCE(?, returned_at),
			updated_at = ?
		WHERE id = ?`,
		returned, returnedAt, now, campaignID,
	)
	if err != nil {
		m.logger.Error("failed to close campaign", "campaign_id", campaignID, "error", err)
		return fmt.Errorf("failed to close campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}

	reason := "closed"
	if returned {
		reason = "returned"
	}
	metrics.IncCampaignsClosed(reason)
	m.logger.Info("campaign closed", "campaign_id", campaignID, "reason", reason)

	return nil
}

// GetCampaignData returns what message selection needs, or nil if unknown
func (m *Manager) GetCampaignData(ctx context.Context, campaignID string) (*models.CampaignData, error) {
	data := &models.CampaignData{SentVariantIDs: []string{}}

	err := m.db.QueryRowContext(ctx, `
		SELECT c.user_id, c.current_level, c.is_active, c.last_activity_date,
			EXISTS (SELECT 1 FROM reengagement_settings s WHERE `+optedOutCondition+`)
		FROM campaigns c WHERE c.id = ?`, campaignID,
	).Scan(&data.UserID, &data.CurrentLevel, &data.IsActive, &data.LastActivityDate, &data.OptedOut)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT DISTINCT variant_id FROM notifications
		WHERE campaign_id = ? AND sent = 1 ORDER BY variant_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sent variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.SentVariantIDs = append(data.SentVariantIDs, id)
	}

	return data, rows.Err()
}

// UnsubscribeUser disables re-engagement for a user and closes the user's
// active campaigns in the same transaction. Returns the number closed.
func (m *Manager) UnsubscribeUser(ctx context.Context, userID string) (int, error) {
	now := m.now().UTC()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reengagement_settings (user_id, enabled, unsubscribed_at, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled = 0,
			unsubscribed_at = excluded.unsubscribed_at,
			updated_at = excluded.updated_at`,
		userID, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update settings: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET is_active = 0, unsubscribed = 1, next_notification_date = NULL, updated_at = ?
		WHERE user_id = ? AND is_active = 1`, now, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to close campaigns: %w", err)
	}
	closed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	metrics.AddCampaignsClosed("unsubscribed", int(closed))
	m.logger.Info("user unsubscribed", "user_id", userID, "closed_campaigns", closed)

	return int(closed), nil
}

// ResubscribeUser re-enables re-engagement for a user
func (m *Manager) ResubscribeUser(ctx context.Context, userID string) error {
	now := m.now().UTC()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO reengagement_settings (user_id, enabled, unsubscribed_at, updated_at)
		VALUES (?, 1, NULL, ?)
		ON CONFLICT(user_id) DO UPDATE SET enabled = 1, unsubscribed_at = NULL, updated_at = excluded.updated_at`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}

	m.logger.Info("user resubscribed", "user_id", userID)
	return nil
}

// GetSettings returns the user's settings, or nil when none were stored
func (m *Manager) GetSettings(ctx context.Context, userID string) (*models.ReengagementSettings, error) {
	s := &models.ReengagementSettings{UserID: userID}
	var unsub sql.NullTime

	err := m.db.QueryRowContext(ctx, `
		SELECT enabled, unsubscribed_at FROM reengagement_settings WHERE user_id = ?`, userID,
	).Scan(&s.Enabled, &unsub)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.UnsubscribedAt = nullTime(unsub)
	return s, nil
}

// CheckAndCloseReturnedCampaigns closes every active campaign whose user
// trained again after the campaign started. Failures for a single campaign
// are logged and skipped.
func (m *Manager) CheckAndCloseReturnedCampaigns(ctx context.Context) (int, error) {
	type candidate struct {
		id     string
		userID string
		start  time.Time
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, campaign_start_date FROM campaigns
		WHERE is_active = 1 AND returned = 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.userID, &c.start); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	closed := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return closed, err
		}

		returned, err := m.returns.CheckUserReturned(ctx, c.userID, c.start)
		if err != nil {
			m.logger.Error("failed to check user return", "campaign_id", c.id, "user_id", c.userID, "error", err)
			continue
		}
		if !returned {
			continue
		}

		if err := m.CloseCampaign(ctx, c.id, true); err != nil {
			m.logger.Error("failed to close returned campaign", "campaign_id", c.id, "user_id", c.userID, "error", err)
			continue
		}
		closed++
	}

	return closed, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
