package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	dsn := ":memory:"
	if path != MemoryPath {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationUsers,
		migrationDogs,
		migrationCourses,
		migrationUserCourses,
		migrationCourseReviews,
		migrationTrainingSteps,
		migrationReengagementSettings,
		migrationCampaigns,
		migrationNotifications,
		migrationDailyMetrics,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// The tables below up to training_steps belong to the training platform;
// the engine only reads them.

const migrationUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationDogs = `
CREATE TABLE IF NOT EXISTS dogs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_dogs_user_id ON dogs(user_id);
`

const migrationCourses = `
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
`

const migrationUserCourses = `
CREATE TABLE IF NOT EXISTS user_courses (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP,
    PRIMARY KEY (user_id, course_id)
);
CREATE INDEX IF NOT EXISTS idx_user_courses_completed ON user_courses(completed_at);
`

const migrationCourseReviews = `
CREATE TABLE IF NOT EXISTS course_reviews (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, course_id)
);
`

const migrationTrainingSteps = `
CREATE TABLE IF NOT EXISTS training_steps (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    step_number INTEGER NOT NULL DEFAULT 0,
    completed INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_training_steps_user ON training_steps(user_id, completed, updated_at);
CREATE INDEX IF NOT EXISTS idx_training_steps_updated ON training_steps(completed, updated_at);
`

const migrationReengagementSettings = `
CREATE TABLE IF NOT EXISTS reengagement_settings (
    user_id TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL DEFAULT 1,
    unsubscribed_at TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// idx_campaigns_one_active enforces at most one active campaign per user
const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    last_activity_date TIMESTAMP NOT NULL,
    campaign_start_date TIMESTAMP NOT NULL,
    current_level INTEGER NOT NULL DEFAULT 1,
    next_notification_date TIMESTAMP,
    last_notification_sent TIMESTAMP,
    total_notifications_sent INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    returned INTEGER NOT NULL DEFAULT 0,
    returned_at TIMESTAMP,
    unsubscribed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_campaigns_one_active ON campaigns(user_id) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_campaigns_user ON campaigns(user_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_returned_at ON campaigns(returned_at);
`

const migrationNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES campaigns(id),
    level INTEGER NOT NULL,
    message_type TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    url TEXT NOT NULL,
    sent INTEGER NOT NULL DEFAULT 0,
    sent_at TIMESTAMP,
    success_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    clicked INTEGER NOT NULL DEFAULT 0,
    clicked_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_campaign ON notifications(campaign_id, level);
CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent, sent_at);
`

const migrationDailyMetrics = `
CREATE TABLE IF NOT EXISTS daily_metrics (
    date TEXT PRIMARY KEY,
    active_campaigns INTEGER NOT NULL DEFAULT 0,
    notifications_sent INTEGER NOT NULL DEFAULT 0,
    campaigns_returned INTEGER NOT NULL DEFAULT 0,
    sent_by_level JSON,
    sent_by_type JSON,
    click_rate REAL NOT NULL DEFAULT 0,
    return_rate REAL NOT NULL DEFAULT 0,
    open_rate REAL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
