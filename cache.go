package zseek

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// frameCache is a bounded LRU map of granule index to decompressed bytes.
// Only find promotes an entry; insert takes ownership of the provided buffer
// and, when the cache is full, evicts exactly the least recently found entry.
//
// The cache carries its own mutex: find promotes the entry to MRU, mutating
// the LRU list, so lookups may not run unsynchronised even when the reader
// holds only its read lock.
type frameCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[int64, []byte]

	entriesMemory int
}

func newFrameCache(capacity int) (*frameCache, error) {
	c := &frameCache{}

	lru, err := simplelru.NewLRU(capacity, func(_ int64, data []byte) {
		c.entriesMemory -= len(data)
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	c.lru = lru

	return c, nil
}

// find returns the cached bytes for idx, promoting the entry to most
// recently used. Misses return (nil, false).
func (c *frameCache) find(idx int64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Get(idx)
}

// insert stores data under idx, assuming ownership. Duplicate indices are
// rejected; callers consult find first under the same lock.
func (c *frameCache) insert(idx int64, data []byte) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Contains(idx) {
		return false
	}

	c.lru.Add(idx, data)
	c.entriesMemory += len(data)
	return true
}

// entries returns the number of cached granules.
func (c *frameCache) entries() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// memoryUsage returns the total byte length of the cached data.
func (c *frameCache) memoryUsage() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entriesMemory
}
