package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v, want true", ok, err)
	}

	ok, _ = l.TryLock(ctx)
	if ok {
		t.Fatal("second TryLock() should fail while held")
	}

	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	ok, _ = l.TryLock(ctx)
	if !ok {
		t.Fatal("TryLock() after Unlock should succeed")
	}
	l.Unlock(ctx)
}

func TestLocalConcurrent(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := l.TryLock(ctx); ok {
				acquired.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if acquired.Load() != 1 {
		t.Errorf("acquired = %d, want 1", acquired.Load())
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("set REDIS_ADDR to run Redis lock tests")
	}

	ctx := context.Background()
	cfg := RedisConfig{Addr: addr, Key: "reengage:test:" + uuid.NewString(), TTL: 2 * time.Second}

	a, err := NewRedis(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer a.Close()

	b, err := NewRedis(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer b.Close()

	if ok, err := a.TryLock(ctx); err != nil || !ok {
		t.Fatalf("a.TryLock() = %v, %v", ok, err)
	}
	if ok, _ := b.TryLock(ctx); ok {
		t.Fatal("b acquired a held lock")
	}

	// b never held it and must not be able to release it
	if err := b.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("b.Unlock() error = %v, want ErrNotHeld", err)
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("a.Unlock() error = %v", err)
	}
	if ok, _ := b.TryLock(ctx); !ok {
		t.Fatal("b.TryLock() after release should succeed")
	}
	b.Unlock(ctx)
}
