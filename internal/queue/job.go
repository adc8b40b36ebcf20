package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a job in the queue
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusSending  JobStatus = "sending"
	StatusDeferred JobStatus = "deferred"
	StatusFailed   JobStatus = "failed"
)

// DefaultMaxAttempts is used when neither the job nor the storage sets a limit
const DefaultMaxAttempts = 3

var (
	// ErrDuplicateJob is returned when the campaign already has a live job
	ErrDuplicateJob = errors.New("campaign already has a queued job")
	ErrJobNotFound  = errors.New("job not found")
)

// Job asks for one notification of a campaign at a given level
type Job struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	UserID      string    `json:"user_id"`
	Level       int       `json:"level"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewJob creates a pending job
func NewJob(campaignID, userID string, level int) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		UserID:     userID,
		Level:      level,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// live reports whether the job still blocks a new job for its campaign
func (j *Job) live() bool {
	switch j.Status {
	case StatusPending, StatusSending, StatusDeferred:
		return true
	}
	return false
}

// QueueStats represents queue statistics
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Sending    int64 `json:"sending"`
	Deferred   int64 `json:"deferred"`
	DeadLetter int64 `json:"dead_letter"`
	Total      int64 `json:"total"`
}

// ListFilter represents filter options for listing jobs
type ListFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
