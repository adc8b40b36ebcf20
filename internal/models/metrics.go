package models

import "time"

// DailyMetrics is the end-of-day aggregate row
type DailyMetrics struct {
	Date              string              `json:"date"` // YYYY-MM-DD, UTC
	ActiveCampaigns   int                 `json:"active_campaigns"`
	NotificationsSent int                 `json:"notifications_sent"`
	CampaignsReturned int                 `json:"campaigns_returned"`
	SentByLevel       map[int]int         `json:"sent_by_level"`
	SentByType        map[MessageType]int `json:"sent_by_type"`
	ClickRate         float64             `json:"click_rate"`
	ReturnRate        float64             `json:"return_rate"`
	OpenRate          *float64            `json:"open_rate"` // not measured yet, always nil
	CreatedAt         time.Time           `json:"created_at"`
}
