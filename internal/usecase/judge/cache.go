package judge

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache defaults.
const (
	DefaultCacheTTL  = 600 * time.Second
	DefaultCacheSize = 256
)

// Cache holds raw judge scores keyed by (query, passage hash). Entries expire
// a fixed ttl after they were stored; when over capacity the oldest stored
// entry goes first. Reads do not refresh an entry.
type Cache struct {
	lru *expirable.LRU[string, float64]
}

// NewCache creates a judge score cache.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, float64](capacity, nil, ttl)}
}

// CacheKey joins a query and a passage hash.
func CacheKey(query, chunkHash string) string {
	return query + "\x00" + chunkHash
}

// Get returns a live score. Peek keeps the eviction order tied to write time.
func (c *Cache) Get(key string) (float64, bool) {
	return c.lru.Peek(key)
}

// Put stores a score, restarting its ttl.
func (c *Cache) Put(key string, score float64) {
	c.lru.Add(key, score)
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *Cache) Len() int {
	return c.lru.Len()
}
