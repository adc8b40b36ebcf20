package queue

import (
	"context"
)

// Queue defines the interface for job queue operations
type Queue interface {
	// Enqueue adds a job to the queue.
	// Returns ErrDuplicateJob if the campaign already has a live job.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue gets the next job for processing
	// Returns nil, nil if nothing is ready
	Dequeue(ctx context.Context) (*Job, error)

	// Update stores the job and reindexes deferred jobs
	Update(ctx context.Context, job *Job) error

	// Complete removes a finished job
	Complete(ctx context.Context, id string) error

	// MoveToDLQ parks a job that exhausted its attempts
	MoveToDLQ(ctx context.Context, job *Job) error

	// Get retrieves a job by ID
	Get(ctx context.Context, id string) (*Job, error)

	// List returns a list of jobs with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*Job, error)

	// Delete removes a job from the queue
	Delete(ctx context.Context, id string) error

	// Stats returns queue statistics
	Stats(ctx context.Context) (*QueueStats, error)

	// Close closes the storage connection
	Close() error
}
