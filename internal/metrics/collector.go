package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

// QueueStats contains queue statistics for metrics
type QueueStats struct {
	Pending    int64
	Sending    int64
	Deferred   int64
	DeadLetter int64
	Total      int64
}

// QueueStatsProvider provides queue statistics for metrics
type QueueStatsProvider interface {
	Stats(ctx context.Context) (*QueueStats, error)
}

// ActiveCampaignCounter counts active campaigns for the gauge
type ActiveCampaignCounter interface {
	CountActive(ctx context.Context) (int, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// counterSample is one labelled counter value as persisted
type counterSample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	queueStats    QueueStatsProvider
	campaigns     ActiveCampaignCounter
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, queueStats QueueStatsProvider, campaigns ActiveCampaignCounter, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	// Create bucket if not exists
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		queueStats:    queueStats,
		campaigns:     campaigns,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted counter values to the fresh registry
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var snapshot map[string][]counterSample
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil // Skip invalid data
		}

		for name, samples := range snapshot {
			vec, ok := c.metrics.counters[name]
			if !ok {
				continue
			}
			for _, s := range samples {
				counter, err := vec.GetMetricWith(prometheus.Labels(s.Labels))
				if err != nil {
					continue // Label set changed between versions
				}
				counter.Add(s.Value)
			}
		}

		return nil
	})
}

// snapshot reads current counter values from the registry
func (c *Collector) snapshot() (map[string][]counterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]counterSample)
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		if _, ok := c.metrics.counters[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			s := counterSample{Value: metric.GetCounter().GetValue()}
			if pairs := metric.GetLabel(); len(pairs) > 0 {
				s.Labels = make(map[string]string, len(pairs))
				for _, p := range pairs {
					s.Labels[p.GetName()] = p.GetValue()
				}
			}
			out[mf.GetName()] = append(out[mf.GetName()], s)
		}
	}

	return out, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	snapshot, err := c.snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	c.collectSystemMetrics(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.queueStats != nil {
		stats, err := c.queueStats.Stats(ctx)
		if err == nil {
			c.metrics.QueueSize.Set(float64(stats.Pending + stats.Deferred))
			c.metrics.QueueActive.Set(float64(stats.Sending))
			c.metrics.QueueDeferred.Set(float64(stats.Deferred))
			c.metrics.QueueDLQ.Set(float64(stats.DeadLetter))
		}
	}

	if c.campaigns != nil {
		if n, err := c.campaigns.CountActive(ctx); err == nil {
			c.metrics.ActiveCampaigns.Set(float64(n))
		}
	}
}
