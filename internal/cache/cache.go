// Package cache implements a read-through TTL cache that serves the last
// good value when a refresh fails.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beacon/internal/clock"
	"beacon/internal/logging"
	"beacon/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached value. It is replaced wholesale on refresh.
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry may be served without refetching.
func (e Entry[T]) Fresh(now time.Time) bool { return now.Sub(e.FetchedAt) < e.TTL }

// FetchFunc loads the current value for a key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// TTL is a keyed read-through cache. Each instance owns its entries.
type TTL[T any] struct {
	name  string
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]Entry[T]
	group   singleflight.Group
}

// New returns a cache whose entries live for ttl. name labels logs and metrics.
// A nil clock uses wall time.
func New[T any](name string, ttl time.Duration, clk clock.Clock) *TTL[T] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TTL[T]{name: name, ttl: ttl, clock: clk, entries: make(map[string]Entry[T])}
}

// Get returns the cached value for key when fresh. Otherwise it calls fetch;
// on failure it falls back to the previous value, or the zero value of T when
// nothing was ever stored. Fetch errors are logged and never returned.
// Concurrent misses for the same key share one fetch.
func (c *TTL[T]) Get(ctx context.Context, key string, fetch FetchFunc[T]) T {
	if e, ok := c.Peek(key); ok && e.Fresh(c.clock.Now()) {
		metrics.IncCache(c.name, "hit")
		return e.Value
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if e, ok := c.Peek(key); ok && e.Fresh(c.clock.Now()) {
			return e.Value, nil
		}
		val, err := c.call(ctx, fetch)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = Entry[T]{Value: val, FetchedAt: c.clock.Now(), TTL: c.ttl}
		c.mu.Unlock()
		return val, nil
	})
	if err == nil {
		metrics.IncCache(c.name, "miss")
		return v.(T)
	}
	fields := map[string]any{"cache": c.name, "key": key, "error": err.Error()}
	if e, ok := c.Peek(key); ok {
		metrics.IncCache(c.name, "stale")
		fields["age_ms"] = c.clock.Now().Sub(e.FetchedAt).Milliseconds()
		logging.Warn("cache_fetch_failed_serving_stale", fields)
		return e.Value
	}
	metrics.IncCache(c.name, "empty")
	logging.Warn("cache_fetch_failed_no_value", fields)
	var zero T
	return zero
}

func (c *TTL[T]) call(ctx context.Context, fetch FetchFunc[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return fetch(ctx)
}

// Peek returns the stored entry for key regardless of freshness.
func (c *TTL[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Invalidate drops key so the next Get refetches.
func (c *TTL[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTL[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
