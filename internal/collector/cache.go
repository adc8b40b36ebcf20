package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/foxzi/reengage/internal/models"
)

// DefaultStatsTTL is how long platform stats stay fresh
const DefaultStatsTTL = time.Hour

// StatsLoader computes platform stats from the data store
type StatsLoader func(ctx context.Context) (*models.PlatformStats, error)

// StatsCache caches platform-wide stats. Loads run outside the mutex and
// concurrent misses share one load.
type StatsCache struct {
	load StatsLoader
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	value     *models.PlatformStats
	fetchedAt time.Time

	group singleflight.Group
}

// NewStatsCache creates a cache. A nil clock means time.Now.
func NewStatsCache(load StatsLoader, ttl time.Duration, now func() time.Time) *StatsCache {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StatsCache{load: load, ttl: ttl, now: now}
}

// Get returns cached stats, loading them on miss or when stale
func (c *StatsCache) Get(ctx context.Context) (*models.PlatformStats, error) {
	if v := c.fresh(); v != nil {
		return v, nil
	}

	res, err, _ := c.group.Do("stats", func() (any, error) {
		if v := c.fresh(); v != nil {
			return v, nil
		}

		v, err := c.load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.value = v
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	stats := *res.(*models.PlatformStats)
	return &stats, nil
}

// Invalidate drops the cached value
func (c *StatsCache) Invalidate() {
	c.mu.Lock()
	c.value = nil
	c.mu.Unlock()
}

func (c *StatsCache) fresh() *models.PlatformStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.value == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil
	}
	stats := *c.value
	return &stats
}
