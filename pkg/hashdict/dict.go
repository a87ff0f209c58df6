// Package hashdict maps interned hash ids to the strings they stand for.
package hashdict

import (
	"context"
	"strconv"
	"sync"
	"time"

	"npuprof/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultKey is the Redis hash holding the dictionary.
	DefaultKey = "npuprof:hashdict"

	redisTimeout = 2 * time.Second
)

// Dictionary resolves hash ids from memory and, when configured, from a Redis
// hash shared with other processes. Entries found only in Redis are cached in
// memory on first use.
//
// It implements interfaces.HashLookup and interfaces.HashRegistrar.
type Dictionary struct {
	mu    sync.RWMutex
	items map[uint64]string

	redisClient *redis.Client
	key         string
}

// New creates a memory-only dictionary.
func New() *Dictionary {
	return &Dictionary{
		items: make(map[uint64]string),
		key:   DefaultKey,
	}
}

// WithRedis backs the dictionary with the Redis hash key. An empty key uses DefaultKey.
func (d *Dictionary) WithRedis(client *redis.Client, key string) *Dictionary {
	d.redisClient = client
	if key != "" {
		d.key = key
	}
	return d
}

// HasRedis reports whether Redis backs the dictionary.
func (d *Dictionary) HasRedis() bool {
	return d.redisClient != nil
}

// Resolve returns the string of hashID, or "" when it is unknown.
func (d *Dictionary) Resolve(hashID uint64) string {
	d.mu.RLock()
	v, ok := d.items[hashID]
	d.mu.RUnlock()
	if ok || d.redisClient == nil {
		return v
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	v, err := d.redisClient.HGet(ctx, d.key, field(hashID)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warnf("hash dictionary lookup of %d failed: %v", hashID, err)
		}
		return ""
	}
	d.setInMemory(hashID, v)
	return v
}

// Register records a mapping in memory and in Redis. The memory entry is kept
// even if Redis fails.
func (d *Dictionary) Register(ctx context.Context, hashID uint64, value string) error {
	d.setInMemory(hashID, value)
	if d.redisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return d.redisClient.HSet(ctx, d.key, field(hashID), value).Err()
}

func (d *Dictionary) setInMemory(hashID uint64, value string) {
	d.mu.Lock()
	d.items[hashID] = value
	d.mu.Unlock()
}

// Load copies every Redis entry into memory and returns how many were read.
func (d *Dictionary) Load(ctx context.Context) (int, error) {
	if d.redisClient == nil {
		return 0, nil
	}
	var (
		cursor uint64
		loaded int
	)
	for {
		kvs, next, err := d.redisClient.HScan(ctx, d.key, cursor, "*", 500).Result()
		if err != nil {
			return loaded, err
		}
		for i := 0; i+1 < len(kvs); i += 2 {
			id, err := strconv.ParseUint(kvs[i], 10, 64)
			if err != nil {
				continue
			}
			d.setInMemory(id, kvs[i+1])
			loaded++
		}
		cursor = next
		if cursor == 0 {
			return loaded, nil
		}
	}
}

// Clear removes every entry from memory and Redis.
func (d *Dictionary) Clear(ctx context.Context) error {
	d.mu.Lock()
	d.items = make(map[uint64]string)
	d.mu.Unlock()
	if d.redisClient == nil {
		return nil
	}
	return d.redisClient.Del(ctx, d.key).Err()
}

// Size returns the number of entries held in memory.
func (d *Dictionary) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

func field(hashID uint64) string {
	return strconv.FormatUint(hashID, 10)
}
