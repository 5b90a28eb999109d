package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Backend.Pop when no payload is available
var ErrEmpty = errors.New("queue empty")

// Backend is the durable transport the queue serializes jobs through.
// RedisBackend is the production adapter, MemoryBackend the in-process
// double used in tests and when redis is disabled.
type Backend interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Depth(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// RedisBackend stores job payloads in a redis list
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend creates a redis-list backed queue transport
func NewRedisBackend(addr, password, key string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	if key == "" {
		key = "newsflux:jobs"
	}
	return &RedisBackend{client: client, key: key}, nil
}

// Push appends the payload to the job list
func (b *RedisBackend) Push(ctx context.Context, payload []byte) error {
	if err := b.client.LPush(ctx, b.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Pop blocks up to timeout waiting for a payload, ErrEmpty on timeout
func (b *RedisBackend) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, timeout, b.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis brpop: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop result: %v", res)
	}
	return []byte(res[1]), nil
}

// Depth returns the number of queued payloads
func (b *RedisBackend) Depth(ctx context.Context) (int64, error) {
	depth, err := b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return depth, nil
}

// Ping verifies the backend connection
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying redis client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// MemoryBackend is an in-process queue transport. SetAvailable simulates an
// outage, all operations fail while unavailable.
type MemoryBackend struct {
	mu        sync.Mutex
	payloads  [][]byte
	available bool
	notify    chan struct{}
}

// NewMemoryBackend creates an available in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{available: true, notify: make(chan struct{}, 1)}
}

// SetAvailable toggles simulated backend availability
func (b *MemoryBackend) SetAvailable(up bool) {
	b.mu.Lock()
	b.available = up
	b.mu.Unlock()
}

// Push appends the payload
func (b *MemoryBackend) Push(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return errors.New("queue backend unavailable")
	}
	b.payloads = append(b.payloads, payload)
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop returns the oldest payload, waiting up to timeout
func (b *MemoryBackend) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		b.mu.Lock()
		if !b.available {
			b.mu.Unlock()
			return nil, errors.New("queue backend unavailable")
		}
		if len(b.payloads) > 0 {
			payload := b.payloads[0]
			b.payloads = b.payloads[1:]
			b.mu.Unlock()
			return payload, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrEmpty
		case <-b.notify:
		}
	}
}

// Depth returns the number of queued payloads
func (b *MemoryBackend) Depth(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return 0, errors.New("queue backend unavailable")
	}
	return int64(len(b.payloads)), nil
}

// Ping reports simulated availability
func (b *MemoryBackend) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return errors.New("queue backend unavailable")
	}
	return nil
}
