package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the lock expired or belongs to
// another holder
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig contains distributed lock settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// Redis is a lock shared by every instance pointing at the same Redis key
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedis connects to Redis and returns a lock on cfg.Key
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Key == "" {
		cfg.Key = "reengage:scheduler"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, key: cfg.Key, ttl: cfg.TTL}, nil
}

// TryLock implements Locker with SET NX PX
func (l *Redis) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()

	return true, nil
}

// Unlock implements Locker. It only releases a key that still carries the
// token written by TryLock.
func (l *Redis) Unlock(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Close closes the Redis connection
func (l *Redis) Close() error {
	return l.client.Close()
}
