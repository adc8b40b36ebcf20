package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockHandler implements Handler for testing
type mockHandler struct {
	mu         sync.Mutex
	handleFunc func(ctx context.Context, job *Job) error
	handled    []*Job
}

func (m *mockHandler) Handle(ctx context.Context, job *Job) error {
	m.mu.Lock()
	m.handled = append(m.handled, job)
	fn := m.handleFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, job)
	}
	return nil
}

func (m *mockHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handled)
}

type mockFailureHandler struct {
	mu     sync.Mutex
	failed []*Job
	errs   []error
}

func (m *mockFailureHandler) HandleFailure(ctx context.Context, job *Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, job)
	m.errs = append(m.errs, err)
}

var errPermanent = errors.New("permanent")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessorCompletesJobs(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	handler := &mockHandler{}
	p := NewProcessor(storage, handler, ProcessorConfig{Workers: 1}, nil, testLogger())

	for _, c := range []string{"a", "b", "c"} {
		storage.Enqueue(ctx, NewJob(c, "user", 1))
	}

	if n := p.Drain(ctx); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	if handler.count() != 3 {
		t.Errorf("handled %d jobs, want 3", handler.count())
	}

	stats, _ := storage.Stats(ctx)
	if stats.Total != 0 {
		t.Errorf("completed jobs left in storage: %+v", stats)
	}
}

func TestProcessorRetryThenDLQ(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	handler := &mockHandler{
		handleFunc: func(ctx context.Context, job *Job) error {
			return errors.New("push endpoint unavailable")
		},
	}
	failures := &mockFailureHandler{}

	p := NewProcessor(storage, handler, ProcessorConfig{
		Workers:    1,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}, nil, testLogger())
	p.SetFailureHandler(failures)

	job := NewJob("campaign-1", "user-1", 2)
	storage.Enqueue(ctx, job)

	for i := 0; i < DefaultMaxAttempts; i++ {
		time.Sleep(10 * time.Millisecond)
		p.Drain(ctx)
	}

	if handler.count() != DefaultMaxAttempts {
		t.Errorf("handled %d times, want %d", handler.count(), DefaultMaxAttempts)
	}

	got, _ := storage.GetFromDLQ(ctx, job.ID)
	if got == nil {
		t.Fatal("job not moved to DLQ")
	}
	if got.Attempts != DefaultMaxAttempts || got.LastError != "push endpoint unavailable" {
		t.Errorf("DLQ job = %+v", got)
	}

	if len(failures.failed) != 1 || failures.failed[0].ID != job.ID {
		t.Errorf("failure handler calls = %v", failures.failed)
	}
}

func TestProcessorPermanentError(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	handler := &mockHandler{
		handleFunc: func(ctx context.Context, job *Job) error { return errPermanent },
	}
	failures := &mockFailureHandler{}
	isTemp := func(err error) bool { return !errors.Is(err, errPermanent) }

	p := NewProcessor(storage, handler, ProcessorConfig{Workers: 1}, isTemp, testLogger())
	p.SetFailureHandler(failures)

	job := NewJob("campaign-1", "user-1", 1)
	storage.Enqueue(ctx, job)
	p.Drain(ctx)

	if handler.count() != 1 {
		t.Errorf("handled %d times, want 1", handler.count())
	}
	if got, _ := storage.GetFromDLQ(ctx, job.ID); got == nil || got.Attempts != 1 {
		t.Errorf("DLQ job = %+v", got)
	}
	if len(failures.errs) != 1 || !errors.Is(failures.errs[0], errPermanent) {
		t.Errorf("failure errors = %v", failures.errs)
	}
}

func TestProcessorRetrySucceeds(t *testing.T) {
	storage := newTestStorage(t)

	var (
		mu       sync.Mutex
		attempts int
	)
	handler := &mockHandler{
		handleFunc: func(ctx context.Context, job *Job) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("temporary error")
			}
			return nil
		},
	}

	p := NewProcessor(storage, handler, ProcessorConfig{
		Workers:         1,
		Backoff:         10 * time.Millisecond,
		ProcessInterval: 20 * time.Millisecond,
	}, nil, testLogger())

	job := NewJob("retry-test", "user", 1)
	if err := storage.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	time.Sleep(300 * time.Millisecond)
	cancel()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if got, _ := storage.Get(context.Background(), job.ID); got != nil {
		t.Errorf("job not completed: %+v", got)
	}
}

func TestProcessorRateLimit(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	handler := &mockHandler{}
	p := NewProcessor(storage, handler, ProcessorConfig{Workers: 1, RateLimit: 20, RateBurst: 1}, nil, testLogger())

	for _, c := range []string{"a", "b", "c", "d"} {
		storage.Enqueue(ctx, NewJob(c, "user", 1))
	}

	start := time.Now()
	p.Drain(ctx)
	elapsed := time.Since(start)

	// Burst of one then 50ms per job
	if elapsed < 120*time.Millisecond {
		t.Errorf("4 jobs at 20/s took %v, expected at least 150ms", elapsed)
	}
	if handler.count() != 4 {
		t.Errorf("handled %d jobs, want 4", handler.count())
	}
}

func TestProcessorRateLimitCancelRequeues(t *testing.T) {
	storage := newTestStorage(t)

	handler := &mockHandler{}
	p := NewProcessor(storage, handler, ProcessorConfig{Workers: 1, RateLimit: 0.001, RateBurst: 1}, nil, testLogger())

	storage.Enqueue(context.Background(), NewJob("a", "user", 1))
	storage.Enqueue(context.Background(), NewJob("b", "user", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Drain(ctx)

	if handler.count() != 1 {
		t.Errorf("handled %d jobs, want 1", handler.count())
	}

	stats, _ := storage.Stats(context.Background())
	if stats.Pending != 1 || stats.Sending != 0 {
		t.Errorf("Stats() = %+v, want the second job back in pending", stats)
	}
}

func TestCalculateBackoff(t *testing.T) {
	p := &Processor{
		backoff:    time.Second,
		maxBackoff: 10 * time.Second,
	}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{40, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.calculateBackoff(tt.attempts); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestCleaner(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		storage.Enqueue(ctx, NewJob(c, "user", 1))
		job, _ := storage.Dequeue(ctx)
		storage.MoveToDLQ(ctx, job)
	}

	cleaner := NewCleaner(storage, CleanerConfig{
		DLQMaxCount: 1,
		DLQInterval: time.Hour,
	}, testLogger())

	runCtx, cancel := context.WithCancel(ctx)
	cleaner.Start(runCtx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	cleaner.Stop()

	stats, _ := storage.DLQStats(ctx)
	if stats.Total != 1 {
		t.Errorf("DLQ size after cleanup = %d, want 1", stats.Total)
	}
}
