// Package lock guards the scheduler against overlapping runs.
package lock

import (
	"context"
	"sync"
)

// Locker is a non-blocking mutual exclusion primitive
type Locker interface {
	// TryLock acquires the lock if it is free. It never waits.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Local is an in-process lock
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process lock
func NewLocal() *Local {
	return &Local{}
}

// TryLock implements Locker
func (l *Local) TryLock(ctx context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

// Unlock implements Locker
func (l *Local) Unlock(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}
