package models

import "time"

// Notification is one message sent (or about to be sent) within a campaign
type Notification struct {
	ID           string      `json:"id"`
	CampaignID   string      `json:"campaign_id"`
	Level        int         `json:"level"`
	MessageType  MessageType `json:"message_type"`
	VariantID    string      `json:"variant_id"`
	Title        string      `json:"title"`
	Body         string      `json:"body"`
	URL          string      `json:"url"`
	Sent         bool        `json:"sent"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	Clicked      bool        `json:"clicked"`
	ClickedAt    *time.Time  `json:"clicked_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NotificationInput holds the fields recorded before a delivery attempt
type NotificationInput struct {
	CampaignID  string
	Level       int
	MessageType MessageType
	VariantID   string
	Title       string
	Body        string
	URL         string
}
