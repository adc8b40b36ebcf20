package models

import "time"

// MessageType is the tone of a message variant
type MessageType string

const (
	TypeEmotional    MessageType = "emotional"
	TypeEducational  MessageType = "educational"
	TypeMotivational MessageType = "motivational"
	TypeMixed        MessageType = "mixed"
)

// Conditions restrict which users a variant may be sent to.
// Zero values mean "no restriction".
type Conditions struct {
	RequiresDogName          bool `json:"requires_dog_name,omitempty"`
	RequiresCompletedCourses bool `json:"requires_completed_courses,omitempty"`
	MinSteps                 int  `json:"min_steps,omitempty"`
	MaxSteps                 int  `json:"max_steps,omitempty"`
}

// MessageVariant is an immutable catalog entry
type MessageVariant struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	Level       int         `json:"level"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	URLTemplate string      `json:"url_template"`
	Conditions  *Conditions `json:"conditions,omitempty"`
}

// CompletedCourse is a course finished by the user
type CompletedCourse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Rating      int       `json:"rating"` // 1-5, 0 when the user left no review
	CompletedAt time.Time `json:"completed_at"`
}

// PlatformStats is platform-wide social proof
type PlatformStats struct {
	WeeklyCompletions int `json:"weekly_completions"`
	ActiveTodayUsers  int `json:"active_today_users"`
}

// UserData is everything personalization and eligibility checks need
type UserData struct {
	UserID           string            `json:"user_id"`
	Username         string            `json:"username"`
	DogName          string            `json:"dog_name,omitempty"`
	CompletedCourses []CompletedCourse `json:"completed_courses"`
	TotalSteps       int               `json:"total_steps"`
	LastCourse       string            `json:"last_course,omitempty"`
	Stats            *PlatformStats    `json:"stats,omitempty"`
}
