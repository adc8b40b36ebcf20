package models

import "time"

// Campaign is a per-user re-engagement campaign
type Campaign struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	LastActivityDate       time.Time  `json:"last_activity_date"` // anchor for every level's due date
	CampaignStartDate      time.Time  `json:"campaign_start_date"`
	CurrentLevel           int        `json:"current_level"`
	NextNotificationDate   *time.Time `json:"next_notification_date,omitempty"`
	LastNotificationSent   *time.Time `json:"last_notification_sent,omitempty"`
	TotalNotificationsSent int        `json:"total_notifications_sent"`
	IsActive               bool       `json:"is_active"`
	Returned               bool       `json:"returned"`
	ReturnedAt             *time.Time `json:"returned_at,omitempty"`
	Unsubscribed           bool       `json:"unsubscribed"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsDue reports whether the campaign should be notified at now
func (c *Campaign) IsDue(now time.Time) bool {
	if !c.IsActive || c.NextNotificationDate == nil {
		return false
	}
	return !now.Before(*c.NextNotificationDate)
}

// CampaignData is the slice of campaign state the dispatcher needs
type CampaignData struct {
	UserID           string    `json:"user_id"`
	CurrentLevel     int       `json:"current_level"`
	IsActive         bool      `json:"is_active"`
	SentVariantIDs   []string  `json:"sent_variant_ids"`
	LastActivityDate time.Time `json:"last_activity_date"`
	OptedOut         bool      `json:"opted_out"` // settings disable re-engagement for the user
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	UserID     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// InactiveUser is a single analyzer finding
type InactiveUser struct {
	UserID            string    `json:"user_id"`
	LastActivityDate  time.Time `json:"last_activity_date"`
	DaysSinceActivity int       `json:"days_since_activity"`
	TotalCompletions  int       `json:"total_completions"`
	HasActiveCampaign bool      `json:"has_active_campaign"`
}

// ReengagementSettings is the per-user opt-out record
type ReengagementSettings struct {
	UserID         string     `json:"user_id"`
	Enabled        bool       `json:"enabled"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

// OptedOut reports whether the user must not receive campaigns
func (s *ReengagementSettings) OptedOut() bool {
	return !s.Enabled || s.UnsubscribedAt != nil
}
