package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// Store implements the cache-aside pattern over a Backend, guarded by a
// circuit breaker. Backend unavailability is never fatal to a caller, every
// public method has a correctness-preserving fallback: recompute on reads,
// no-op on writes and deletes.
type Store struct {
	backend Backend
	breaker *Breaker

	ttlClasses map[string]time.Duration // key prefix -> ttl
	defaultTTL time.Duration

	statsMu       sync.Mutex
	hits          int64
	misses        int64
	errors        int64
	ops           int64
	statsSince    time.Time
	resetInterval time.Duration
	resetOps      int64
	nowFn         func() time.Time
}

// Opts configures the store
type Opts struct {
	TTLClasses       map[string]time.Duration // per key-prefix ttl table
	DefaultTTL       time.Duration            // used when no prefix matches
	BreakerThreshold int                      // consecutive failures before the breaker opens
	BreakerCooldown  time.Duration            // bypass window after the breaker opens
	StatsInterval    time.Duration            // stats counters reset after this interval
	StatsMaxOps      int64                    // or after this many operations, whichever first
}

// Stats is a snapshot of cache counters since the last reset
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	OpsPerSecond float64 `json:"ops_per_second"`
}

// ComputeFn produces the value on a cache miss
type ComputeFn func(ctx context.Context) ([]byte, error)

// NewStore creates a cache-aside store over the given backend
func NewStore(backend Backend, opts Opts) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Hour
	}
	if opts.StatsMaxOps <= 0 {
		opts.StatsMaxOps = 1_000_000
	}
	return &Store{
		backend:       backend,
		breaker:       NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		ttlClasses:    opts.TTLClasses,
		defaultTTL:    opts.DefaultTTL,
		statsSince:    time.Now(),
		resetInterval: opts.StatsInterval,
		resetOps:      opts.StatsMaxOps,
		nowFn:         time.Now,
	}
}

// GetOrCompute returns the cached value for key or computes, returns and
// asynchronously stores it. Backend failures fall through to computeFn,
// a failed background store is logged and never surfaces to the caller.
func (s *Store) GetOrCompute(ctx context.Context, key string, computeFn ComputeFn, ttlOverride ...time.Duration) ([]byte, error) {
	if !s.breaker.Allow() {
		// backend bypassed during cool-down, cache acts as a no-op
		s.count(func() { s.misses++ })
		return computeFn(ctx)
	}

	cleanMiss := false
	val, err := s.backend.Get(ctx, key)
	switch {
	case err == nil:
		s.breaker.Success()
		s.count(func() { s.hits++ })
		return val, nil
	case errors.Is(err, ErrMiss):
		s.breaker.Success()
		s.count(func() { s.misses++ })
		cleanMiss = true
	default:
		s.breaker.Failure()
		s.count(func() { s.errors++ })
		lgr.Printf("[WARN] cache get failed for %q: %v", key, err)
	}

	computed, err := computeFn(ctx)
	if err != nil {
		return nil, err
	}

	// populate the cache in the background, never blocking the caller.
	// skipped when the read itself failed, the backend is failing anyway
	if cleanMiss {
		s.storeAsync(ctx, key, computed, s.ttlFor(key, ttlOverride...))
	}
	return computed, nil
}

// Set stores the value with the ttl derived from the key prefix unless overridden
func (s *Store) Set(ctx context.Context, key string, value []byte, ttlOverride ...time.Duration) error {
	if !s.breaker.Allow() {
		return nil // no-op while the breaker is open
	}
	if err := s.backend.Set(ctx, key, value, s.ttlFor(key, ttlOverride...)); err != nil {
		s.breaker.Failure()
		s.count(func() { s.errors++ })
		lgr.Printf("[WARN] cache set failed for %q: %v", key, err)
		return nil // backend unavailability never surfaces to callers
	}
	s.breaker.Success()
	return nil
}

// Delete removes a key, no-op when the backend is unavailable
func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.breaker.Allow() {
		return nil
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		s.breaker.Failure()
		s.count(func() { s.errors++ })
		lgr.Printf("[WARN] cache delete failed for %q: %v", key, err)
		return nil
	}
	s.breaker.Success()
	return nil
}

// DeleteByPrefix removes all keys with the given prefix, no-op when the
// backend is unavailable. Returns the number of keys removed.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if !s.breaker.Allow() {
		return 0, nil
	}
	deleted, err := s.backend.DeleteByPrefix(ctx, prefix)
	if err != nil {
		s.breaker.Failure()
		s.count(func() { s.errors++ })
		lgr.Printf("[WARN] cache delete by prefix failed for %q: %v", prefix, err)
		return deleted, nil
	}
	s.breaker.Success()
	return deleted, nil
}

// Stats returns a snapshot of the counters since the last periodic reset
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st := Stats{Hits: s.hits, Misses: s.misses, Errors: s.errors}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	if elapsed := s.nowFn().Sub(s.statsSince).Seconds(); elapsed > 0 {
		st.OpsPerSecond = float64(s.ops) / elapsed
	}
	return st
}

// BreakerState returns the current circuit breaker snapshot
func (s *Store) BreakerState() BreakerState { return s.breaker.State() }

// ResetBreaker closes the breaker and clears its failure counter
func (s *Store) ResetBreaker() { s.breaker.Reset() }

// storeAsync populates the cache in a supervised background goroutine.
// The write uses a detached context so caller cancellation can't abort it,
// and a failure only feeds the breaker and the log.
func (s *Store) storeAsync(ctx context.Context, key string, value []byte, ttl time.Duration) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		if !s.breaker.Allow() {
			return
		}
		if err := s.backend.Set(bgCtx, key, value, ttl); err != nil {
			s.breaker.Failure()
			s.count(func() { s.errors++ })
			lgr.Printf("[WARN] background cache store failed for %q: %v", key, err)
			return
		}
		s.breaker.Success()
	}()
}

// ttlFor resolves the ttl from an explicit override or the longest matching
// key prefix in the ttl class table
func (s *Store) ttlFor(key string, ttlOverride ...time.Duration) time.Duration {
	if len(ttlOverride) > 0 && ttlOverride[0] > 0 {
		return ttlOverride[0]
	}
	ttl := s.defaultTTL
	bestLen := 0
	for prefix, classTTL := range s.ttlClasses {
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			ttl = classTTL
			bestLen = len(prefix)
		}
	}
	return ttl
}

// count applies a counter mutation and resets counters when the reset
// interval or the operation cap is reached, keeping rates meaningful
func (s *Store) count(fn func()) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	now := s.nowFn()
	if s.ops >= s.resetOps || now.Sub(s.statsSince) >= s.resetInterval {
		s.hits, s.misses, s.errors, s.ops = 0, 0, 0, 0
		s.statsSince = now
	}
	fn()
	s.ops++
}
