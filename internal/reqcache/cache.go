// Package reqcache deduplicates and caches LCU API calls. Monitors poll
// the same endpoints from several code paths at once; the cache ensures
// at most one request per endpoint is in flight and serves repeat reads
// from a short-lived entry instead of hammering the local client.
package reqcache

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache keys for the LCU endpoints the monitors share.
const (
	KeyGameflowSession    = "gameflow-session"
	KeyChampSelectSession = "champ-select-session"
	KeyMatchmakingSearch  = "matchmaking-search"
	KeyLobby              = "lobby"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Metrics is a point-in-time snapshot of cache effectiveness.
type Metrics struct {
	Calls   int64
	Hits    int64
	Misses  int64
	HitRate float64
	PerKey  map[string]int64
	Size    int
}

// Cache is a TTL cache with request coalescing.
type Cache struct {
	log        *zap.Logger
	defaultTTL time.Duration
	now        func() time.Time

	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
	ttls    map[string]time.Duration
	calls   int64
	hits    int64
	perKey  map[string]int64
}

// New creates a cache. Entries live for defaultTTL unless the key has
// an override set via SetTTL.
func New(defaultTTL time.Duration, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		log:        log,
		defaultTTL: defaultTTL,
		now:        time.Now,
		entries:    make(map[string]entry),
		ttls:       make(map[string]time.Duration),
		perKey:     make(map[string]int64),
	}
}

// SetTTL overrides the entry lifetime for one key.
func (c *Cache) SetTTL(key string, ttl time.Duration) {
	c.mu.Lock()
	c.ttls[key] = ttl
	c.mu.Unlock()
}

func (c *Cache) ttlFor(key string) time.Duration {
	if ttl, ok := c.ttls[key]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Do returns the cached value for key, or runs fetch to produce one.
// Concurrent callers for the same key share a single fetch; a fetch
// error is returned to every waiter and nothing is cached.
func (c *Cache) Do(key string, fetch func() (any, error)) (any, error) {
	c.mu.Lock()
	c.calls++
	c.perKey[key]++
	if e, ok := c.entries[key]; ok {
		if c.now().Before(e.expiresAt) {
			c.hits++
			c.mu.Unlock()
			return e.value, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A waiter that queued behind the previous flight may find the
		// entry it just wrote still fresh.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()

		value, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttlFor(key))}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Clear drops every entry whose key contains pattern. An empty pattern
// drops everything. In-flight fetches are not interrupted.
func (c *Cache) Clear(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		c.entries = make(map[string]entry)
		return
	}
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
		}
	}
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	perKey := make(map[string]int64, len(c.perKey))
	for k, v := range c.perKey {
		perKey[k] = v
	}

	m := Metrics{
		Calls:  c.calls,
		Hits:   c.hits,
		Misses: c.calls - c.hits,
		PerKey: perKey,
		Size:   len(c.entries),
	}
	if m.Calls > 0 {
		m.HitRate = float64(m.Hits) / float64(m.Calls)
	}
	return m
}

// Request is a typed wrapper around Cache.Do.
func Request[T any](c *Cache, key string, fetch func() (T, error)) (T, error) {
	v, err := c.Do(key, func() (any, error) {
		return fetch()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
