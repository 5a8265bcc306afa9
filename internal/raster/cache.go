package raster

import (
	"container/list"
	"sync"
)

// BlockKey identifies one decoded block of one band of one file.
type BlockKey struct {
	Path string
	Band int
	BX   int
	BY   int
}

// BlockCache is an LRU of decoded blocks bounded by total bytes.
//
// One cache is created at process start from the configured ceiling and
// handed to the driver; it is the only process-wide mutable I/O state.
// Cached slices are shared and must be treated as read-only.
type BlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	ll       *list.List
	items    map[BlockKey]*list.Element

	hits   int64
	misses int64
}

type cacheEntry struct {
	key    BlockKey
	values []float64
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Entries  int
	Bytes    int64
	Capacity int64
}

// NewBlockCache creates a cache holding at most capacity bytes of values.
// A capacity of zero disables caching.
func NewBlockCache(capacity int64) *BlockCache {
	return &BlockCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[BlockKey]*list.Element),
	}
}

// Get returns the cached block for key.
func (c *BlockCache) Get(key BlockKey) ([]float64, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		return el.Value.(*cacheEntry).values, true
	}
	c.misses++
	return nil, false
}

// Put stores values under key, evicting least recently used blocks.
func (c *BlockCache) Put(key BlockKey, values []float64) {
	if c == nil || c.capacity <= 0 {
		return
	}

	size := int64(len(values)) * 8
	if size > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.size -= int64(len(el.Value.(*cacheEntry).values)) * 8
		c.ll.Remove(el)
		delete(c.items, key)
	}

	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, values: values})
	c.size += size

	for c.size > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*cacheEntry)
		c.ll.Remove(oldest)
		delete(c.items, e.key)
		c.size -= int64(len(e.values)) * 8
	}
}

// Invalidate drops every block of path.
func (c *BlockCache) Invalidate(path string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.items {
		if key.Path != path {
			continue
		}
		c.size -= int64(len(el.Value.(*cacheEntry).values)) * 8
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

// Stats returns cache statistics.
func (c *BlockCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		Entries:  len(c.items),
		Bytes:    c.size,
		Capacity: c.capacity,
	}
}
