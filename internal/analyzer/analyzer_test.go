package analyzer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/foxzi/reengage/internal/db/dbtest"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) (*Analyzer, *dbtest.Seeder) {
	t.Helper()
	db := dbtest.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(db, Config{}, func() time.Time { return testNow }, logger)
	return a, dbtest.NewSeeder(t, db)
}

func TestFindInactiveUsers(t *testing.T) {
	a, seed := newTestAnalyzer(t)
	daysAgo := func(d int) time.Time { return testNow.AddDate(0, 0, -d) }

	// inactive 6 days, 3 steps: included
	seed.User("inactive", "a")
	seed.Steps("inactive", "c1", 3, daysAgo(6))

	// active 4 days ago: too recent
	seed.User("recent", "b")
	seed.Steps("recent", "c1", 5, daysAgo(4))

	// only one completed step
	seed.User("oneStep", "c")
	seed.Steps("oneStep", "c1", 1, daysAgo(10))

	// disabled settings
	seed.User("disabled", "d")
	seed.Steps("disabled", "c1", 3, daysAgo(10))
	seed.Settings("disabled", false, nil)

	// unsubscribed but enabled flag left on
	seed.User("unsub", "e")
	seed.Steps("unsub", "c1", 3, daysAgo(10))
	unsubAt := daysAgo(1)
	seed.Settings("unsub", true, &unsubAt)

	// explicitly enabled
	seed.User("enabled", "f")
	seed.Steps("enabled", "c1", 3, daysAgo(8))
	seed.Settings("enabled", true, nil)

	// outside the 60 day window
	seed.User("ancient", "g")
	seed.Steps("ancient", "c1", 3, daysAgo(61))

	// only incomplete recent steps
	seed.User("incomplete", "h")
	seed.IncompleteStep("incomplete", "c1", daysAgo(7))

	users, err := a.FindInactiveUsers(context.Background())
	if err != nil {
		t.Fatalf("FindInactiveUsers() error = %v", err)
	}

	got := make(map[string]bool)
	for _, u := range users {
		got[u.UserID] = true
		if u.DaysSinceActivity < DefaultMinDaysInactive {
			t.Errorf("user %s included with %d days", u.UserID, u.DaysSinceActivity)
		}
	}

	for _, id := range []string{"inactive", "enabled"} {
		if !got[id] {
			t.Errorf("expected %s to be inactive", id)
		}
	}
	for _, id := range []string{"recent", "oneStep", "disabled", "unsub", "ancient", "incomplete"} {
		if got[id] {
			t.Errorf("did not expect %s", id)
		}
	}
}

func TestFindInactiveUsersScenarioA(t *testing.T) {
	a, seed := newTestAnalyzer(t)
	seed.User("u1", "Анна")
	seed.Steps("u1", "c1", 3, testNow.AddDate(0, 0, -6))

	users, err := a.FindInactiveUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("len = %d, want 1", len(users))
	}

	u := users[0]
	if u.HasActiveCampaign {
		t.Error("HasActiveCampaign = true, want false")
	}
	if u.DaysSinceActivity != 6 {
		t.Errorf("DaysSinceActivity = %d, want 6", u.DaysSinceActivity)
	}
	if u.TotalCompletions != 3 {
		t.Errorf("TotalCompletions = %d, want 3", u.TotalCompletions)
	}
	if !u.LastActivityDate.Equal(testNow.AddDate(0, 0, -6)) {
		t.Errorf("LastActivityDate = %v", u.LastActivityDate)
	}
}

func TestFindInactiveUsersFlagsActiveCampaign(t *testing.T) {
	db := dbtest.New(t)
	seed := dbtest.NewSeeder(t, db)
	a := New(db, Config{}, func() time.Time { return testNow }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	seed.User("u1", "a")
	seed.Steps("u1", "c1", 3, testNow.AddDate(0, 0, -9))
	_, err := db.Exec(`INSERT INTO campaigns (id, user_id, last_activity_date, campaign_start_date, is_active)
		VALUES ('camp', 'u1', ?, ?, 1)`, testNow.AddDate(0, 0, -9), testNow.AddDate(0, 0, -4))
	if err != nil {
		t.Fatal(err)
	}

	users, err := a.FindInactiveUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || !users[0].HasActiveCampaign {
		t.Errorf("users = %+v, want one with active campaign", users)
	}
}

func TestDaysSinceActivityFloors(t *testing.T) {
	a, seed := newTestAnalyzer(t)
	seed.User("u1", "a")
	// 4 days and 23 hours: still below the threshold
	seed.Steps("u1", "c1", 3, testNow.Add(-(5*24-1)*time.Hour))

	users, err := a.FindInactiveUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Errorf("expected no users, got %+v", users)
	}
}

func TestCheckUserReturned(t *testing.T) {
	a, seed := newTestAnalyzer(t)
	seed.User("u1", "a")
	seed.Steps("u1", "c1", 3, testNow.AddDate(0, 0, -10))

	start := testNow.AddDate(0, 0, -5)
	ctx := context.Background()

	returned, err := a.CheckUserReturned(ctx, "u1", start)
	if err != nil {
		t.Fatal(err)
	}
	if returned {
		t.Error("returned = true before any new activity")
	}

	seed.Steps("u1", "c1", 1, testNow.AddDate(0, 0, -1))
	returned, err = a.CheckUserReturned(ctx, "u1", start)
	if err != nil {
		t.Fatal(err)
	}
	if !returned {
		t.Error("returned = false after new activity")
	}
}

func TestGetLastActivityDate(t *testing.T) {
	a, seed := newTestAnalyzer(t)
	ctx := context.Background()

	last, err := a.GetLastActivityDate(ctx, "nobody")
	if err != nil || last != nil {
		t.Fatalf("GetLastActivityDate(nobody) = %v, %v", last, err)
	}

	seed.User("u1", "a")
	seed.Steps("u1", "c1", 4, testNow.AddDate(0, 0, -3))
	seed.IncompleteStep("u1", "c1", testNow)

	last, err = a.GetLastActivityDate(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(testNow.AddDate(0, 0, -3)) {
		t.Errorf("GetLastActivityDate() = %v", last)
	}
}

func TestDaysBetween(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{base, 0},
		{base.Add(23 * time.Hour), 0},
		{base.Add(24 * time.Hour), 1},
		{base.Add(6*24*time.Hour + 5*time.Hour), 6},
		{base.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		if got := DaysBetween(base, tt.now); got != tt.want {
			t.Errorf("DaysBetween(%v) = %d, want %d", tt.now, got, tt.want)
		}
	}
}
