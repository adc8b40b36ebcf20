package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs       = []byte("jobs")
	bucketPending    = []byte("pending")
	bucketDeferred   = []byte("deferred")
	bucketDeadLetter = []byte("dead_letter")
	bucketCampaigns  = []byte("campaigns")
)

// indexTimeFormat is fixed width UTC so index keys sort by time
const indexTimeFormat = "2006-01-02T15:04:05.000000000"

// BoltStorage implements Queue interface using BoltDB
type BoltStorage struct {
	db          *bolt.DB
	now         func() time.Time
	maxAttempts int
}

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketPending, bucketDeferred, bucketDeadLetter, bucketCampaigns} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db, now: time.Now, maxAttempts: DefaultMaxAttempts}, nil
}

// SetMaxAttempts sets the attempt limit for jobs enqueued without one
func (s *BoltStorage) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// Enqueue adds a job to the queue
func (s *BoltStorage) Enqueue(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)

		if existingID := campaigns.Get([]byte(job.CampaignID)); existingID != nil {
			existing, err := getJob(tx, string(existingID))
			if err != nil {
				return err
			}
			if existing != nil && existing.live() {
				return ErrDuplicateJob
			}
		}

		now := s.now()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = s.maxAttempts
		}
		job.Status = StatusPending
		job.UpdatedAt = now

		if err := putJob(tx, job); err != nil {
			return err
		}

		if err := tx.Bucket(bucketPending).Put(makeIndexKey(job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}

		return campaigns.Put([]byte(job.CampaignID), []byte(job.ID))
	})
}

// Dequeue gets the next job for processing. Deferred jobs whose retry time
// has come go first, then pending jobs in creation order.
func (s *BoltStorage) Dequeue(ctx context.Context) (*Job, error) {
	var job *Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		now := s.now()

		c := tx.Bucket(bucketDeferred).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break // All remaining are in the future
			}

			j, err := s.claim(tx, c, v, now)
			if err != nil {
				return err
			}
			if j != nil {
				job = j
				return nil
			}
		}

		c = tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			j, err := s.claim(tx, c, v, now)
			if err != nil {
				return err
			}
			if j != nil {
				job = j
				return nil
			}
		}

		return nil
	})

	return job, err
}

// claim removes the index entry under the cursor and marks the job sending.
// Returns nil for entries pointing at missing or unreadable jobs.
func (s *BoltStorage) claim(tx *bolt.Tx, c *bolt.Cursor, id []byte, now time.Time) (*Job, error) {
	if err := c.Delete(); err != nil {
		return nil, err
	}

	job, err := getJob(tx, string(id))
	if err != nil || job == nil {
		return nil, nil
	}

	job.Status = StatusSending
	job.UpdatedAt = now
	if err := putJob(tx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// Update updates the job status
func (s *BoltStorage) Update(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketJobs).Get([]byte(job.ID)) == nil {
			return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
		}

		job.UpdatedAt = s.now()
		if err := putJob(tx, job); err != nil {
			return err
		}

		switch job.Status {
		case StatusDeferred:
			if err := tx.Bucket(bucketDeferred).Put(makeIndexKey(job.NextRetryAt, job.ID), []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to add to deferred index: %w", err)
			}
		case StatusPending:
			if err := tx.Bucket(bucketPending).Put(makeIndexKey(job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to add to pending index: %w", err)
			}
		}

		return nil
	})
}

// Complete removes a processed job and releases its campaign
func (s *BoltStorage) Complete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		return removeJob(tx, job)
	})
}

// Get retrieves a job by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		job, err = getJob(tx, id)
		return err
	})

	return job, err
}

// GetByCampaign returns the latest job recorded for a campaign, or nil
func (s *BoltStorage) GetByCampaign(ctx context.Context, campaignID string) (*Job, error) {
	var job *Job

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCampaigns).Get([]byte(campaignID))
		if id == nil {
			return nil
		}
		var err error
		job, err = getJob(tx, string(id))
		return err
	})

	return job, err
}

// List returns a list of jobs with optional filtering
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	jobs := []*Job{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			if filter.Status != "" && job.Status != filter.Status {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			jobs = append(jobs, &job)
			count++

			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}

		return nil
	})

	return jobs, err
}

// Delete removes a job from the queue
func (s *BoltStorage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return removeJob(tx, job)
	})
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			stats.Total++
			switch job.Status {
			case StatusPending:
				stats.Pending++
			case StatusSending:
				stats.Sending++
			case StatusDeferred:
				stats.Deferred++
			case StatusFailed:
				stats.DeadLetter++
			}
		}

		return nil
	})

	return stats, err
}

// RecoverStale returns jobs left in sending state by a crashed worker to the
// pending index. Jobs claimed less than olderThan ago are left alone.
func (s *BoltStorage) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	recovered := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		cutoff := s.now().Add(-olderThan)
		jobs := tx.Bucket(bucketJobs)

		var stale []*Job
		c := jobs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			if job.Status == StatusSending && job.UpdatedAt.Before(cutoff) {
				stale = append(stale, &job)
			}
		}

		for _, job := range stale {
			job.Status = StatusPending
			job.UpdatedAt = s.now()
			if err := putJob(tx, job); err != nil {
				return err
			}
			if err := tx.Bucket(bucketPending).Put(makeIndexKey(job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
				return err
			}
			recovered++
		}

		return nil
	})

	return recovered, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// Path returns the database file path
func (s *BoltStorage) Path() string {
	return s.db.Path()
}

func getJob(tx *bolt.Tx, id string) (*Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(id))
	if data == nil {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func putJob(tx *bolt.Tx, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

// removeJob deletes a job with all of its index entries
func removeJob(tx *bolt.Tx, job *Job) error {
	tx.Bucket(bucketPending).Delete(makeIndexKey(job.CreatedAt, job.ID))
	tx.Bucket(bucketDeferred).Delete(makeIndexKey(job.NextRetryAt, job.ID))
	if err := deleteIndexValue(tx.Bucket(bucketDeadLetter), job.ID); err != nil {
		return err
	}

	campaigns := tx.Bucket(bucketCampaigns)
	if string(campaigns.Get([]byte(job.CampaignID))) == job.ID {
		if err := campaigns.Delete([]byte(job.CampaignID)); err != nil {
			return err
		}
	}

	return tx.Bucket(bucketJobs).Delete([]byte(job.ID))
}

// deleteIndexValue removes the index entry pointing at id
func deleteIndexValue(b *bolt.Bucket, id string) error {
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if string(v) == id {
			return c.Delete()
		}
	}
	return nil
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeFormat) + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	if len(s) < len(indexTimeFormat) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeFormat, s[:len(indexTimeFormat)])
	return ts
}
