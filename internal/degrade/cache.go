package degrade

import "time"

// CachedResponse is one stored answer, keyed by normalized query.
type CachedResponse struct {
	Response string    `json:"response"`
	Model    string    `json:"model"`
	CachedAt time.Time `json:"cached_at"`
}

// CacheStats reports the bounded cache's state.
type CacheStats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// fifoCache is a capacity-bounded map evicting in insertion order.
// Oldest-first is enough here; recency tracking would buy nothing for
// degraded-mode answers. Not safe for concurrent use; the Controller's
// lock guards it.
type fifoCache struct {
	entries  map[string]CachedResponse
	order    []string
	capacity int
	hits     int64
	misses   int64
}

func newFIFOCache(capacity int) *fifoCache {
	return &fifoCache{
		entries:  make(map[string]CachedResponse, capacity),
		capacity: capacity,
	}
}

func (c *fifoCache) get(key string) (CachedResponse, bool) {
	e, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e, ok
}

func (c *fifoCache) put(key string, e CachedResponse) {
	if _, exists := c.entries[key]; exists {
		// Overwrite keeps the original insertion slot.
		c.entries[key] = e
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

func (c *fifoCache) stats() CacheStats {
	return CacheStats{
		Size:     len(c.entries),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
