package api

import (
	"container/list"
	"sync"
	"time"
)

// lruCache implements a thread-safe LRU (Least Recently Used) cache of response
// bodies. Entries older than ttl are treated as missing.
type lruCache struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

// cacheEntry represents a key-value pair in the cache
type cacheEntry struct {
	key      string
	value    []byte
	storedAt time.Time
}

// newLRUCache creates a new LRU cache with the specified capacity. A zero ttl never expires.
func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get retrieves a value from the cache
// Returns the value and true if found and fresh, nil and false otherwise
func (c *lruCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if !exists {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.lru.Remove(elem)
		delete(c.cache, key)
		return nil, false
	}

	// Move to front (most recently used)
	c.lru.MoveToFront(elem)
	return entry.value, true
}

// Put adds or updates a value in the cache
func (c *lruCache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// If key exists, update and move to front
	if elem, exists := c.cache[key]; exists {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.storedAt = c.now()
		return
	}

	// Evict oldest if at capacity
	if c.lru.Len() >= c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}

	entry := &cacheEntry{key: key, value: value, storedAt: c.now()}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem
}

// Len returns the current number of items in the cache
func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear removes all items from the cache
func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*list.Element)
	c.lru = list.New()
}
