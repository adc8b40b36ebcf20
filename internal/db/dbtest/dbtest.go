// Package dbtest provides an in-memory database and fixtures for tests.
package dbtest

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/reengage/internal/db"
)

// New opens an in-memory database with all migrations applied
func New(t *testing.T) *sql.DB {
	t.Helper()

	d, err := db.New(db.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return d.DB
}

// Seeder inserts training platform records
type Seeder struct {
	t  *testing.T
	db *sql.DB
}

func NewSeeder(t *testing.T, db *sql.DB) *Seeder {
	return &Seeder{t: t, db: db}
}

func (s *Seeder) exec(query string, args ...any) {
	s.t.Helper()
	if _, err := s.db.Exec(query, args...); err != nil {
		s.t.Fatalf("seed failed: %v\n%s", err, query)
	}
}

// User creates a user
func (s *Seeder) User(id, username string) {
	s.t.Helper()
	s.exec(`INSERT INTO users (id, username) VALUES (?, ?)`, id, username)
}

// Dog gives a user a dog
func (s *Seeder) Dog(userID, name string) {
	s.t.Helper()
	s.exec(`INSERT INTO dogs (id, user_id, name) VALUES (?, ?, ?)`, uuid.New().String(), userID, name)
}

// Course creates a course if it does not exist
func (s *Seeder) Course(id, name string) {
	s.t.Helper()
	s.exec(`INSERT OR IGNORE INTO courses (id, name) VALUES (?, ?)`, id, name)
}

// CompleteCourse marks a course completed and optionally reviews it
func (s *Seeder) CompleteCourse(userID, courseID string, at time.Time, rating int) {
	s.t.Helper()
	s.exec(`INSERT INTO user_courses (user_id, course_id, started_at, completed_at) VALUES (?, ?, ?, ?)`,
		userID, courseID, at.UTC(), at.UTC())
	if rating > 0 {
		s.exec(`INSERT INTO course_reviews (user_id, course_id, rating) VALUES (?, ?, ?)`, userID, courseID, rating)
	}
}

// Steps records n completed steps, the latest one at last, one hour apart
func (s *Seeder) Steps(userID, courseID string, n int, last time.Time) {
	s.t.Helper()
	s.Course(courseID, "Курс "+courseID)
	for i := 0; i < n; i++ {
		at := last.Add(-time.Duration(i) * time.Hour).UTC()
		s.exec(`INSERT INTO training_steps (id, user_id, course_id, step_number, completed, updated_at) VALUES (?, ?, ?, ?, 1, ?)`,
			uuid.New().String(), userID, courseID, n-i, at)
	}
}

// IncompleteStep records a started but not completed step
func (s *Seeder) IncompleteStep(userID, courseID string, at time.Time) {
	s.t.Helper()
	s.Course(courseID, "Курс "+courseID)
	s.exec(`INSERT INTO training_steps (id, user_id, course_id, step_number, completed, updated_at) VALUES (?, ?, ?, 0, 0, ?)`,
		uuid.New().String(), userID, courseID, at.UTC())
}

// Settings writes a reengagement settings row
func (s *Seeder) Settings(userID string, enabled bool, unsubscribedAt *time.Time) {
	s.t.Helper()
	var unsub any
	if unsubscribedAt != nil {
		unsub = unsubscribedAt.UTC()
	}
	s.exec(`INSERT INTO reengagement_settings (user_id, enabled, unsubscribed_at) VALUES (?, ?, ?)`, userID, enabled, unsub)
}

// Count runs a COUNT(*) style query
func (s *Seeder) Count(query string, args ...any) int {
	s.t.Helper()
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		s.t.Fatalf("count failed: %v", err)
	}
	return n
}

// UserID formats a predictable user id for loops
func UserID(i int) string {
	return fmt.Sprintf("user-%03d", i)
}
