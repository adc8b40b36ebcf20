package queue

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DLQStats contains dead letter queue statistics
type DLQStats struct {
	Total    int64     `json:"total"`
	OldestAt time.Time `json:"oldest_at,omitempty"`
}

// MoveToDLQ moves a failed job to the dead letter queue and releases its campaign
func (s *BoltStorage) MoveToDLQ(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job.Status = StatusFailed
		job.UpdatedAt = s.now()

		if err := putJob(tx, job); err != nil {
			return err
		}

		if err := tx.Bucket(bucketDeadLetter).Put(makeIndexKey(job.UpdatedAt, job.ID), []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to DLQ index: %w", err)
		}

		campaigns := tx.Bucket(bucketCampaigns)
		if string(campaigns.Get([]byte(job.CampaignID))) == job.ID {
			return campaigns.Delete([]byte(job.CampaignID))
		}
		return nil
	})
}

// ListDLQ returns jobs in the dead letter queue, oldest first
func (s *BoltStorage) ListDLQ(ctx context.Context, limit, offset int) ([]*Job, error) {
	jobs := []*Job{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeadLetter).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}

			job, err := getJob(tx, string(v))
			if err != nil || job == nil {
				continue
			}

			jobs = append(jobs, job)
			count++

			if limit > 0 && count >= limit {
				break
			}
		}

		return nil
	})

	return jobs, err
}

// GetFromDLQ retrieves a job from the dead letter queue, or nil
func (s *BoltStorage) GetFromDLQ(ctx context.Context, id string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, nil
	}
	return job, nil
}

// RetryFromDLQ moves a job from DLQ back to the pending queue with a fresh
// attempt budget. Fails with ErrDuplicateJob when the campaign got a new job
// in the meantime.
func (s *BoltStorage) RetryFromDLQ(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if job == nil || job.Status != StatusFailed {
			return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}

		campaigns := tx.Bucket(bucketCampaigns)
		if otherID := campaigns.Get([]byte(job.CampaignID)); otherID != nil && string(otherID) != id {
			other, err := getJob(tx, string(otherID))
			if err != nil {
				return err
			}
			if other != nil && other.live() {
				return ErrDuplicateJob
			}
		}

		if err := deleteIndexValue(tx.Bucket(bucketDeadLetter), id); err != nil {
			return err
		}

		job.Status = StatusPending
		job.Attempts = 0
		job.LastError = ""
		job.NextRetryAt = time.Time{}
		job.UpdatedAt = s.now()

		if err := putJob(tx, job); err != nil {
			return err
		}

		if err := tx.Bucket(bucketPending).Put(makeIndexKey(job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending: %w", err)
		}

		return campaigns.Put([]byte(job.CampaignID), []byte(job.ID))
	})
}

// DeleteFromDLQ permanently deletes a job from the dead letter queue
func (s *BoltStorage) DeleteFromDLQ(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if job == nil || job.Status != StatusFailed {
			return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return removeJob(tx, job)
	})
}

// DLQStats returns dead letter queue statistics
func (s *BoltStorage) DLQStats(ctx context.Context) (*DLQStats, error) {
	stats := &DLQStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeadLetter).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			stats.Total++
			if stats.Total == 1 {
				stats.OldestAt = parseTimestampFromKey(k)
			}
		}
		return nil
	})

	return stats, err
}

// CleanupDLQ removes DLQ jobs older than maxAge, then drops the oldest ones
// until at most maxCount remain. Zero disables either rule.
func (s *BoltStorage) CleanupDLQ(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		dlq := tx.Bucket(bucketDeadLetter)
		cutoff := s.now().Add(-maxAge)

		type entry struct {
			key []byte
			id  string
		}
		var entries []entry
		c := dlq.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entries = append(entries, entry{key: append([]byte{}, k...), id: string(v)})
		}

		excess := 0
		if maxCount > 0 && len(entries) > maxCount {
			excess = len(entries) - maxCount
		}

		// Entries are oldest first
		for i, e := range entries {
			expired := maxAge > 0 && parseTimestampFromKey(e.key).Before(cutoff)
			if !expired && i >= excess {
				break
			}

			if err := dlq.Delete(e.key); err != nil {
				return err
			}
			if err := tx.Bucket(bucketJobs).Delete([]byte(e.id)); err != nil {
				return err
			}
			deleted++
		}

		return nil
	})

	return deleted, err
}
