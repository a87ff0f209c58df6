// Package lock provides a Redis lock that lets one instance of a replicated
// service run a periodic job.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"npuprof/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultTTL     = 30 * time.Second
	acquireTimeout = 5 * time.Second
	renewInterval  = 10 * time.Second
	maxHold        = 2 * time.Minute
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end`

// Locker is held by at most one process at a time.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisLock is a SET NX lock renewed in the background while held.
// A nil client makes every TryLock succeed (single instance mode).
type RedisLock struct {
	client *redis.Client
	key    string
	value  string // identifies this holder
	ttl    time.Duration

	mu           sync.Mutex
	held         bool
	acquiredAt   time.Time
	stopRenew    chan struct{}
	renewStopped bool
}

// NewRedisLock creates a lock on key.
func NewRedisLock(client *redis.Client, key string) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		value:  key + "-" + uuid.NewString(),
		ttl:    DefaultTTL,
	}
}

// TryLock acquires the lock without waiting for it.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	ok, err := l.client.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		logger.DebugCtx(ctx, "lock %s is held by another instance", l.key)
		return false, nil
	}

	l.mu.Lock()
	l.held = true
	l.acquiredAt = time.Now()
	// new channel per acquisition so TryLock/Unlock can cycle
	l.stopRenew = make(chan struct{})
	l.renewStopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renew(ctx, stop)
	logger.DebugCtx(ctx, "lock %s acquired", l.key)
	return true, nil
}

// Unlock releases the lock if this instance still holds it.
func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	if l.client == nil {
		l.held = false
		l.mu.Unlock()
		return nil
	}
	if !l.renewStopped {
		l.renewStopped = true
		close(l.stopRenew)
	}
	l.mu.Unlock()

	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	l.mu.Lock()
	l.held = false
	l.mu.Unlock()

	if res != 1 {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.key)
	}
	return nil
}

// IsHeld reports whether this instance holds the lock.
func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisLock) markLost() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}

func (l *RedisLock) renew(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			l.mu.Unlock()
			if held > maxHold {
				// Unlock stays with the caller; renewal just stops
				logger.WarnCtx(ctx, "lock %s held for %.0f seconds, no longer renewed", l.key, held.Seconds())
				l.markLost()
				return
			}

			res, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.value, int(l.ttl.Seconds())).Int64()
			if err != nil {
				logger.WarnCtx(ctx, "failed to renew lock %s: %v", l.key, err)
				l.markLost()
				return
			}
			if res == 0 {
				logger.WarnCtx(ctx, "lock %s lost", l.key)
				l.markLost()
				return
			}
		}
	}
}
