// Package cache implements the in-memory object cache used by the storage
// layer.
//
// The cache holds up to 'limit' objects keyed by object index and releases
// cold entries using a frequency-of-reference heuristic: when an insertion
// pushes the cache over its limit, the two least-referenced entries are
// considered and one of them (excluding the entry just inserted) is evicted.
// This is not strict LFU; it is a cheap approximation that demotes cold
// objects under write-heavy workloads.
package cache

import (
	"sort"
	"sync"

	"github.com/usebox/swiftnbd/internal/logger"
)

// Cache is a bounded in-memory object cache with frequency-based eviction.
//
// Thread safety: safe for concurrent use, although the storage layer only
// ever touches a cache from a single connection goroutine at a time.
type Cache struct {
	mu    sync.Mutex
	limit int
	data  map[int][]byte
	ref   map[int]uint64
}

// New creates a cache bounded to limit entries. A limit of zero or less
// disables eviction.
func New(limit int) *Cache {
	logger.Debug("cache created", "limit", limit)
	return &Cache{
		limit: limit,
		data:  make(map[int][]byte),
		ref:   make(map[int]uint64),
	}
}

// Limit returns the maximum number of entries.
func (c *Cache) Limit() int {
	return c.limit
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Get returns the cached object for key and whether it was present.
// A hit increments the key's reference counter; a miss has no effect.
func (c *Cache) Get(key int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if !ok {
		return nil, false
	}
	c.ref[key]++
	return data, true
}

// Set inserts or overwrites the object for key and increments its reference
// counter. If the insertion pushes the cache over its limit, one victim is
// evicted from the two least-referenced entries other than key.
//
// Tie-breaking among equal reference counts is deterministic: the entry with
// the highest key is considered least-referenced first.
func (c *Cache) Set(key int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = data
	c.ref[key]++

	if c.limit <= 0 || len(c.data) <= c.limit {
		return
	}

	for _, victim := range c.leastReferenced(2) {
		if victim == key {
			continue
		}
		logger.Debug("cache evict", "key", victim, "refs", c.ref[victim])
		delete(c.data, victim)
		delete(c.ref, victim)
		break
	}
}

// leastReferenced returns up to n keys ordered by (reference count asc,
// key desc).
func (c *Cache) leastReferenced(n int) []int {
	keys := make([]int, 0, len(c.ref))
	for k := range c.ref {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := c.ref[keys[i]], c.ref[keys[j]]
		if ri != rj {
			return ri < rj
		}
		return keys[i] > keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// Flush drops all entries and resets the reference counters.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Debug("cache flush", "entries", len(c.data))
	c.data = make(map[int][]byte)
	c.ref = make(map[int]uint64)
}
