package cache

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FileCache is a file-backed plan cache that survives process restarts.
// Values must be JSON-serializable; entries reloaded from disk come back as
// generic JSON values, so callers that need typed values should treat an
// unexpected shape as a miss.
type FileCache struct {
	store    map[string]cacheItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
}

// NewFileCache creates a cache persisted at filePath, loading any entries a
// previous run left behind.
func NewFileCache(defaultTTL time.Duration, filePath string) *FileCache {
	c := &FileCache{
		store:    make(map[string]cacheItem),
		ttl:      defaultTTL,
		filePath: filePath,
	}
	c.loadFromFile()
	return c
}

func (c *FileCache) loadFromFile() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &c.store); err != nil {
		log.Printf("plan cache file %s is unreadable, starting empty: %v", c.filePath, err)
		c.store = make(map[string]cacheItem)
	}
}

func (c *FileCache) saveToFile() {
	c.mutex.RLock()
	data, err := json.Marshal(c.store)
	c.mutex.RUnlock()
	if err != nil {
		log.Printf("plan cache serialization failed: %v", err)
		return
	}
	if err := os.WriteFile(c.filePath, data, 0o644); err != nil {
		log.Printf("plan cache write to %s failed: %v", c.filePath, err)
	}
}

// Get retrieves a cached plan.
func (c *FileCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("plan not cached", nil))
	}
	if time.Now().UnixNano() > item.Expiration {
		c.mutex.Lock()
		delete(c.store, key)
		c.mutex.Unlock()
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cached plan expired", nil))
	}
	return item.Value, nil
}

// Set adds or updates a cached plan and persists the store.
func (c *FileCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	c.store[key] = cacheItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.mutex.Unlock()

	c.saveToFile()
	return nil
}
