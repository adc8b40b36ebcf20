package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

type mockQueueStatsProvider struct {
	stats *QueueStats
}

func (m *mockQueueStatsProvider) Stats(ctx context.Context) (*QueueStats, error) {
	return m.stats, nil
}

type mockCampaignCounter struct {
	n int
}

func (m *mockCampaignCounter) CountActive(ctx context.Context) (int, error) {
	return m.n, nil
}

func openBolt(t *testing.T, path string) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openBolt(t, path)

	m := New()
	c, err := NewCollector(db, m, nil, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	m.CampaignsCreatedTotal.WithLabelValues().Add(2)
	m.CampaignsClosedTotal.WithLabelValues("returned").Inc()
	m.NotificationsSentTotal.WithLabelValues("3").Add(5)
	m.APIRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	db.Close()

	db2 := openBolt(t, path)
	defer db2.Close()

	m2 := New()
	c2, err := NewCollector(db2, m2, nil, nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to recreate collector: %v", err)
	}
	defer c2.Stop()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"created", counterValue(t, m2.CampaignsCreatedTotal.WithLabelValues()), 2},
		{"closed returned", counterValue(t, m2.CampaignsClosedTotal.WithLabelValues("returned")), 1},
		{"sent level 3", counterValue(t, m2.NotificationsSentTotal.WithLabelValues("3")), 5},
		{"api requests", counterValue(t, m2.APIRequestsTotal.WithLabelValues("GET", "/health", "200")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollectorSystemMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openBolt(t, path)
	defer db.Close()

	m := New()
	queueStats := &mockQueueStatsProvider{
		stats: &QueueStats{Pending: 10, Sending: 2, Deferred: 5, DeadLetter: 1},
	}
	c, err := NewCollector(db, m, queueStats, &mockCampaignCounter{n: 4}, path, 0)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	if c.flushInterval != 10*time.Second {
		t.Errorf("default flush interval = %v", c.flushInterval)
	}

	c.collectSystemMetrics(context.Background())

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"queue size", gaugeValue(t, m.QueueSize), 15},
		{"queue active", gaugeValue(t, m.QueueActive), 2},
		{"queue deferred", gaugeValue(t, m.QueueDeferred), 5},
		{"queue dlq", gaugeValue(t, m.QueueDLQ), 1},
		{"active campaigns", gaugeValue(t, m.ActiveCampaigns), 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if gaugeValue(t, m.StorageUsedBytes) <= 0 {
		t.Error("storage size not recorded")
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestCollectorStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db := openBolt(t, path)
	defer db.Close()

	c, err := NewCollector(db, New(), nil, nil, "", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	if err := c.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	// Second stop must not panic
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
