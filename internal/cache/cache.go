// Package cache provides a bounded, TTL-aware LRU cache for fetched remote
// dataset payloads. Read-only opens of the same URL within the TTL are served
// from memory instead of refetching the object.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config represents payload-cache configuration.
type Config struct {
	// MaxBytes bounds the total cached payload size. Zero disables caching.
	MaxBytes int64 `yaml:"max_bytes"`

	// TTL is how long a cached payload stays valid.
	TTL time.Duration `yaml:"ttl"`
}

// Stats holds cache hit/miss counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int64 `json:"size"`
	Entries   int   `json:"entries"`
}

type entry struct {
	key      string
	data     []byte
	storedAt time.Time
	element  *list.Element
}

// PayloadCache is a thread-safe LRU cache keyed by URL.
type PayloadCache struct {
	mu        sync.Mutex
	capacity  int64
	ttl       time.Duration
	size      int64
	items     map[string]*entry
	evictList *list.List
	stats     Stats
}

// New creates a payload cache. A nil receiver is a valid disabled cache, so
// callers need no nil checks around Get/Put.
func New(cfg Config) *PayloadCache {
	if cfg.MaxBytes <= 0 {
		return nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &PayloadCache{
		capacity:  cfg.MaxBytes,
		ttl:       cfg.TTL,
		items:     make(map[string]*entry),
		evictList: list.New(),
	}
}

// Get returns the cached payload for key, or nil on a miss. The returned
// slice is a copy; callers may hold it past further cache mutations.
func (c *PayloadCache) Get(key string) []byte {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil
	}
	if time.Since(item.storedAt) > c.ttl {
		c.remove(item)
		c.stats.Misses++
		return nil
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++

	out := make([]byte, len(item.data))
	copy(out, item.data)
	return out
}

// Put stores a payload under key, evicting least-recently-used entries until
// it fits. Payloads larger than the whole cache are not stored.
func (c *PayloadCache) Put(key string, data []byte) {
	if c == nil || int64(len(data)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.remove(old)
	}

	for c.size+int64(len(data)) > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		c.remove(back.Value.(*entry))
		c.stats.Evictions++
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	item := &entry{key: key, data: stored, storedAt: time.Now()}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item
	c.size += int64(len(stored))
}

// Invalidate drops the entry for key, if present. Writers call this after
// uploading a new version of the object.
func (c *PayloadCache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok {
		c.remove(item)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *PayloadCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.size
	s.Entries = len(c.items)
	return s
}

// remove must be called with the lock held.
func (c *PayloadCache) remove(item *entry) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key)
	c.size -= int64(len(item.data))
}
