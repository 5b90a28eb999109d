package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Backend.Get when the key is not present
var ErrMiss = errors.New("cache miss")

// Backend is the minimal contract the store needs from a cache backend.
// Two implementations exist: RedisBackend for production and MemoryBackend
// for tests and cache-disabled mode, selected by configuration.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}

// RedisBackend adapts a redis client to the Backend interface
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a redis-based cache backend. Connection is verified
// with a short ping so a misconfigured address fails fast at startup.
func NewRedisBackend(addr, password string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	return &RedisBackend{client: client}, nil
}

// Get returns the value for key or ErrMiss
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores the value with the given ttl
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys, missing keys are not an error
func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix using SCAN to avoid
// blocking the server on large keyspaces. Returns the number of keys removed.
func (b *RedisBackend) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var deleted int
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return deleted, fmt.Errorf("redis del batch: %w", err)
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := b.client.Del(ctx, batch...).Err(); err != nil {
			return deleted, fmt.Errorf("redis del batch: %w", err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// Ping verifies the backend connection
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying redis client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// MemoryBackend is an in-process Backend used in tests and when redis
// is disabled. TTL expiry is checked lazily on read.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  map[string]memoryEntry
	nowFn func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]memoryEntry), nowFn: time.Now}
}

// Get returns the value for key or ErrMiss
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.data[key]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expires.IsZero() && b.nowFn().After(entry.expires) {
		b.mu.Lock()
		delete(b.data, key)
		b.mu.Unlock()
		return nil, ErrMiss
	}
	return entry.value, nil
}

// Set stores the value with the given ttl
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expires = b.nowFn().Add(ttl)
	}
	b.mu.Lock()
	b.data[key] = entry
	b.mu.Unlock()
	return nil
}

// Delete removes the given keys
func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, k)
	}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix
func (b *MemoryBackend) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	deleted := 0
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds for the in-memory backend
func (b *MemoryBackend) Ping(_ context.Context) error { return nil }

// Len returns the number of stored keys, used in tests
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
