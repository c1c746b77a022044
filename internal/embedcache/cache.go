// Package embedcache memoizes query embeddings per model and batches misses
// into a single provider call.
package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds the cache when no size is configured.
const DefaultSize = 512

// Cache is an LRU of embedding vectors. No TTL: keys are exact query text,
// so entries never go stale within a process lifetime.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// NewCache creates an LRU bounded to capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultSize
	}
	// lru.New only fails on a non-positive size.
	l, _ := lru.New[string, []float32](capacity)
	return &Cache{lru: l}
}

// Key identifies a vector by model identity and trimmed text.
func Key(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}

// Get returns a copy of the cached vector and marks it most recently used.
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return cloneVec(v), true
}

// Put stores vec, evicting the least recently used entry past capacity.
// Empty vectors are not cached.
func (c *Cache) Put(key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	c.lru.Add(key, cloneVec(vec))
}

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
