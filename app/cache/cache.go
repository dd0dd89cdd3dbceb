// Package cache holds computed dashboard results keyed by query shape and
// store generation. Any raw-data write bumps the generation, so stale
// results age out of the LRU without explicit invalidation; ClearAll exists
// for the manual reset endpoint.
package cache

import (
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/minio/highwayhash"
)

// resultHashKey keys the HighwayHash used for cache keys. Hardcoded so keys
// stay stable across restarts.
var resultHashKey = []byte("floorsight result cache\x00\x00\x00\x00\x00\x00\x00\x00\x00")

// Results is an LRU cache of computed query payloads.
type Results struct {
	mu      sync.RWMutex
	storage map[string]any
	lru     *lruList
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResults creates a cache holding at most maxSize results.
func NewResults(maxSize int) *Results {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &Results{
		storage: make(map[string]any),
		lru:     newLRUList(),
		maxSize: maxSize,
	}
}

// Key derives a stable cache key from the query shape and the store
// generation. parts order matters; callers pass the same order every time.
func Key(gen uint64, parts ...string) string {
	h, err := highwayhash.New(resultHashKey)
	if err != nil {
		// Key length is a compile-time constant; New only fails on bad keys.
		panic(err)
	}
	h.Write([]byte(strconv.FormatUint(gen, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result for key, if present.
func (c *Results) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.storage[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.lru.addToFront(key)
	c.hits.Add(1)
	return v, true
}

// Put stores a result, evicting the oldest entries past capacity.
func (c *Results) Put(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storage[key] = v
	c.lru.addToFront(key)
	for c.lru.size > c.maxSize {
		oldest := c.lru.removeOldest()
		if oldest == "" {
			break
		}
		delete(c.storage, oldest)
	}
}

// ClearAll empties the cache.
func (c *Results) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storage = make(map[string]any)
	c.lru = newLRUList()
}

// Stats returns hit/miss counters and the current entry count.
func (c *Results) Stats() (hits, misses int64, entries int) {
	c.mu.RLock()
	entries = c.lru.size
	c.mu.RUnlock()
	return c.hits.Load(), c.misses.Load(), entries
}
