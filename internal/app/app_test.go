package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/reengage/internal/config"
	"github.com/foxzi/reengage/internal/push"
	"github.com/foxzi/reengage/internal/queue"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	disabled := false

	return &config.Config{
		API:       config.APIConfig{Enabled: &disabled},
		Database:  config.DatabaseConfig{Path: filepath.Join(dir, "reengage.db")},
		Queue:     config.QueueConfig{Path: filepath.Join(dir, "queue.db"), MaxAttempts: 5},
		Scheduler: config.SchedulerConfig{Cron: "0 10 * * *", MetricsCron: "55 23 * * *"},
		Analyzer:  config.AnalyzerConfig{MinDaysInactive: 5, MinCompletedSteps: 2, MaxAnalysisDays: 60},
		Push:      config.PushConfig{Mode: "log"},
		Logging:   config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func TestNewSender(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		cfg     config.PushConfig
		want    string
		wantErr bool
	}{
		{"default", config.PushConfig{}, "log", false},
		{"log", config.PushConfig{Mode: "log"}, "log", false},
		{"webhook", config.PushConfig{Mode: "webhook", WebhookURL: "http://localhost/push", Timeout: time.Second}, "webhook", false},
		{"unknown", config.PushConfig{Mode: "fcm"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := newSender(tt.cfg, logger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newSender() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var got string
			switch sender.(type) {
			case *push.LogSender:
				got = "log"
			case *push.WebhookSender:
				got = "webhook"
			}
			if got != tt.want {
				t.Errorf("newSender() = %T, want %s sender", sender, tt.want)
			}
		})
	}
}

func TestNewWiresComponents(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.apiServer != nil {
		t.Error("api server created while disabled")
	}
	if a.cron == nil {
		t.Error("cron not created while scheduler enabled")
	}
	if a.metricsServer != nil {
		t.Error("metrics server created while disabled")
	}

	ctx := context.Background()

	result, err := a.Scheduler().Run(ctx)
	if err != nil {
		t.Fatalf("Scheduler().Run() error = %v", err)
	}
	if result.NewCampaigns != 0 || result.ScheduledNotifications != 0 {
		t.Errorf("Run() on empty database = %+v", result)
	}

	job := queue.NewJob("c1", "u1", 1)
	if err := a.storage.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want configured 5", job.MaxAttempts)
	}

	stats, err := queueStats{a.storage}.Stats(ctx)
	if err != nil {
		t.Fatalf("queueStats.Stats() error = %v", err)
	}
	if stats.Pending != 1 || stats.Total != 1 {
		t.Errorf("queueStats = %+v, want 1 pending", stats)
	}

	// The job points at a campaign that does not exist and is dropped
	if n := a.Processor().Drain(ctx); n != 1 {
		t.Errorf("Drain() = %d, want 1", n)
	}
}

func TestNewInvalidPushMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Push.Mode = "fcm"

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("New() should fail for unknown push mode")
	}

	// Storage was released on failure
	a, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a.Close()
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if a.storage != nil || a.db != nil {
		t.Error("storage not closed after shutdown")
	}
}
