package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache is the L1 cache: an LRU bounded by total value size.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[string]*list.Element
	lru      *list.List // front = most recently used
	stats    Stats
}

type memoryEntry struct {
	key    string
	value  []byte
	stored time.Time
	hits   int64
}

// NewMemoryCache creates a memory cache holding up to capacity bytes.
func NewMemoryCache(capacity int64) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a value and marks it recently used.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	e := elem.Value.(*memoryEntry)
	e.hits++
	c.stats.Hits++
	c.stats.LastAccess = time.Now()
	return e.value, true
}

// Put stores a value, evicting least recently used entries to make room.
func (c *MemoryCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(value))
	if n > c.capacity {
		return ErrItemTooLarge
	}
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
	for c.size+n > c.capacity && c.lru.Len() > 0 {
		c.remove(c.lru.Back())
		c.stats.Evictions++
		c.stats.LastEvict = time.Now()
	}

	c.items[key] = c.lru.PushFront(&memoryEntry{key: key, value: value, stored: time.Now()})
	c.size += n
	return nil
}

// Delete removes a key. Missing keys are ignored.
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
	return nil
}

// Clear empties the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
	return nil
}

// Contains reports whether key is cached without touching the LRU order.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Size returns the total size of cached values.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Capacity = c.capacity
	s.Size = c.size
	s.ItemCount = int64(len(c.items))
	return s
}

// Oldest returns up to n entries, least recently used first.
func (c *MemoryCache) Oldest(n int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, n)
	for elem := c.lru.Back(); elem != nil && len(out) < n; elem = elem.Prev() {
		e := elem.Value.(*memoryEntry)
		out = append(out, Entry{
			Key:    e.key,
			Size:   int64(len(e.value)),
			Stored: e.stored,
			Hits:   e.hits,
			Level:  LevelMemory,
		})
	}
	return out
}

// Prune drops entries stored before now-maxAge and returns how many.
func (c *MemoryCache) Prune(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*memoryEntry).stored.Before(cutoff) {
			c.remove(elem)
			pruned++
		}
		elem = prev
	}
	return pruned
}

// remove must be called with the lock held.
func (c *MemoryCache) remove(elem *list.Element) {
	e := c.lru.Remove(elem).(*memoryEntry)
	delete(c.items, e.key)
	c.size -= int64(len(e.value))
}

var _ Cache = (*MemoryCache)(nil)
