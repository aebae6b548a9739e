package tokens

import (
	"container/list"
	"sync"
)

// fifoCache is a bounded map that evicts the oldest insertion once full.
type fifoCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key   string
	count Count
}

func newFIFOCache(capacity int) *fifoCache {
	return &fifoCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *fifoCache) get(key string) (Count, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Count{}, false
	}
	return elem.Value.(*cacheEntry).count, true
}

func (c *fifoCache) put(key string, count Count) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, count: count})
}

func (c *fifoCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *fifoCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *fifoCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
