package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const cacheSweepInterval = time.Minute

// InMemoryCache is a bounded TTL cache for tenant configuration. When full,
// expired entries go first, then the entry closest to expiry.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	limit   int
	now     func() time.Time
	logger  *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

type cacheEntry struct {
	value    interface{}
	deadline time.Time
}

func (e cacheEntry) expired(at time.Time) bool { return !at.Before(e.deadline) }

// NewInMemoryCache creates a cache holding at most limit entries and starts
// its background sweeper. Close stops the sweeper.
func NewInMemoryCache(limit int, logger *zap.Logger) *InMemoryCache {
	c := newInMemoryCache(limit, time.Now, logger)
	go c.sweepLoop(cacheSweepInterval)
	return c
}

func newInMemoryCache(limit int, now func() time.Time, logger *zap.Logger) *InMemoryCache {
	if limit <= 0 {
		limit = 1000
	}
	return &InMemoryCache{
		entries: make(map[string]cacheEntry, limit),
		limit:   limit,
		now:     now,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Get returns ErrNotFound for absent and expired keys
func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Set stores value until ttl elapses, evicting one entry if the cache is full
func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.limit {
		if c.sweepLocked(now) == 0 {
			c.evictSoonestLocked()
		}
	}
	c.entries[key] = cacheEntry{value: value, deadline: now.Add(ttl)}
	return nil
}

// Delete removes key; absent keys are not an error
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Size reports stored entries, expired ones included until swept
func (c *InMemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper
func (c *InMemoryCache) Close() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *InMemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			n := c.sweepLocked(c.now())
			c.mu.Unlock()
			if n > 0 {
				c.logger.Debug("Swept expired cache entries", zap.Int("count", n))
			}
		}
	}
}

// sweepLocked drops every expired entry and returns how many went
func (c *InMemoryCache) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *InMemoryCache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.deadline.Before(soonest) {
			victim, soonest = k, e.deadline
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.logger.Debug("Evicted cache entry", zap.String("key", victim))
	}
}
