package embedding

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU of embeddings. Keys should fingerprint the embedded content,
// so an edited record misses instead of returning a stale vector.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// NewCache creates a cache holding up to capacity vectors. capacity <= 0 disables caching.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return &Cache{}, nil
	}
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Get returns the cached embedding for key if present.
func (c *Cache) Get(key string) ([]float32, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry if at capacity.
func (c *Cache) Set(key string, value []float32) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(key, value)
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c != nil && c.lru != nil {
		c.lru.Purge()
	}
}
