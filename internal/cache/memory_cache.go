// Package cache provides plan-cache implementations for the planning
// engine: repeated searches over an identical domain, root task, and state
// fingerprint are deterministic, so their results can be reused.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// InMemoryCache provides a simple thread-safe in-memory plan cache.
type InMemoryCache struct {
	store map[string]cacheItem
	mutex sync.RWMutex
	ttl   time.Duration
}

type cacheItem struct {
	Value      interface{} `json:"value"`
	Expiration int64       `json:"expiration"`
}

// NewInMemoryCache creates a new in-memory cache with a default TTL.
func NewInMemoryCache(defaultTTL time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		store: make(map[string]cacheItem),
		ttl:   defaultTTL,
	}
	// Background cleanup keeps abandoned entries from accumulating between
	// lazy expiry checks.
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// Get retrieves a cached plan.
func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("plan not cached", nil))
	}

	if time.Now().UnixNano() > item.Expiration {
		// Expired entries are reaped lazily here and periodically by the
		// cleanup loop.
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cached plan expired", nil))
	}

	return item.Value, nil
}

// Set adds or updates a cached plan.
func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	return nil
}

// cleanupLoop periodically removes expired items.
func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now().UnixNano()
		c.mutex.Lock()
		for key, item := range c.store {
			if now > item.Expiration {
				delete(c.store, key)
			}
		}
		c.mutex.Unlock()
	}
}
