package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/foxzi/reengage/internal/models"
)

const campaignColumns = `id, user_id, last_activity_date, campaign_start_date, current_level,
	next_notification_date, last_notification_sent, total_notifications_sent,
	is_active, returned, returned_at, unsubscribed, created_at, updated_at`

const notificationColumns = `id, campaign_id, level, message_type, variant_id, title, body, url,
	sent, sent_at, success_count, failed_count, clicked, clicked_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (*models.Campaign, error) {
	var c models.Campaign
	var next, lastSent, returnedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.UserID, &c.LastActivityDate, &c.CampaignStartDate, &c.CurrentLevel,
		&next, &lastSent, &c.TotalNotificationsSent,
		&c.IsActive, &c.Returned, &returnedAt, &c.Unsubscribed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.NextNotificationDate = nullTime(next)
	c.LastNotificationSent = nullTime(lastSent)
	c.ReturnedAt = nullTime(returnedAt)
	return &c, nil
}

func scanNotification(row scanner) (*models.Notification, error) {
	var (
		n               models.Notification
		msgType         string
		sentAt, clickAt sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.CampaignID, &n.Level, &msgType, &n.VariantID, &n.Title, &n.Body, &n.URL,
		&n.Sent, &sentAt, &n.SuccessCount, &n.FailedCount, &n.Clicked, &clickAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.MessageType = models.MessageType(msgType)
	n.SentAt = nullTime(sentAt)
	n.ClickedAt = nullTime(clickAt)
	return &n, nil
}

// GetCampaign returns a campaign by id, or nil if it does not exist
func (m *Manager) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := scanCampaign(m.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// GetActiveCampaign returns the user's active campaign, or nil
func (m *Manager) GetActiveCampaign(ctx context.Context, userID string) (*models.Campaign, error) {
	c, err := scanCampaign(m.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE user_id = ? AND is_active = 1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active campaign: %w", err)
	}
	return c, nil
}

// optedOutCondition matches a settings row s that disables the user of campaign c
const optedOutCondition = `s.user_id = c.user_id AND (s.enabled = 0 OR s.unsubscribed_at IS NOT NULL)`

// DueCampaigns returns active campaigns whose next notification is due.
// Campaigns of users who opted out are left out.
func (m *Manager) DueCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns c
		WHERE c.is_active = 1 AND c.next_notification_date IS NOT NULL AND c.next_notification_date <= ?
			AND NOT EXISTS (SELECT 1 FROM reengagement_settings s WHERE `+optedOutCondition+`)
		ORDER BY c.next_notification_date`, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// CountActive returns the number of active campaigns
func (m *Manager) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active campaigns: %w", err)
	}
	return n, nil
}

// ListCampaigns returns campaigns matching the filter, newest first
func (m *Manager) ListCampaigns(ctx context.Context, filter models.CampaignListFilter) ([]*models.Campaign, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// CreateNotificationRecord stores a rendered notification as not yet sent
func (m *Manager) CreateNotificationRecord(ctx context.Context, in models.NotificationInput) (string, error) {
	id := uuid.New().String()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO notifications (id, campaign_id, level, message_type, variant_id, title, body, url,
			sent, success_count, failed_count, clicked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?)`,
		id, in.CampaignID, in.Level, string(in.MessageType), in.VariantID, in.Title, in.Body, in.URL,
		m.now().UTC(),
	)
	if err != nil {
		m.logger.Error("failed to create notification", "campaign_id", in.CampaignID, "level", in.Level, "error", err)
		return "", fmt.Errorf("failed to create notification: %w", err)
	}

	return id, nil
}

// GetNotification returns a notification by id, or nil
func (m *Manager) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, err := scanNotification(m.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// PendingNotification returns the unsent notification rendered for a level,
// so a retried delivery reuses the same content.
func (m *Manager) PendingNotification(ctx context.Context, campaignID string, level int) (*models.Notification, error) {
	n, err := scanNotification(m.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE campaign_id = ? AND level = ? AND sent = 0
		ORDER BY created_at DESC LIMIT 1`, campaignID, level))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns a campaign's notifications in creation order
func (m *Manager) ListNotifications(ctx context.Context, campaignID string) ([]*models.Notification, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE campaign_id = ? ORDER BY created_at, level`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// RecordClick marks a notification as clicked. Only the first click is kept.
func (m *Manager) RecordClick(ctx context.Context, notificationID string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE notifications SET clicked = 1, clicked_at = COALESCE(clicked_at, ?)
		WHERE id = ?`, m.now().UTC(), notificationID)
	if err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}

	m.logger.Debug("notification clicked", "notification_id", notificationID)
	return nil
}
