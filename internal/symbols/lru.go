package symbols

import (
	"container/list"
	"sync"
)

// lruCache is a simple LRU (Least Recently Used) cache with a fixed capacity.
type lruCache[V any] struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	lruList  *list.List
}

// lruEntry represents a key-value pair in the cache.
type lruEntry[V any] struct {
	key   string
	value V
}

// newLRUCache creates a new LRU cache with the specified capacity.
// A capacity below one keeps a single entry.
func newLRUCache[V any](capacity int) *lruCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &lruCache[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get retrieves a value from the cache and marks it as recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*lruEntry[V]).value, true
	}

	var zero V
	return zero, false
}

// Put adds or updates a value in the cache.
func (c *lruCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*lruEntry[V]).value = value
		return
	}

	elem := c.lruList.PushFront(&lruEntry[V]{key: key, value: value})
	c.items[key] = elem

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

// Purge drops every entry.
func (c *lruCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lruList.Init()
}

// evictOldest removes the least recently used item from the cache.
func (c *lruCache[V]) evictOldest() {
	elem := c.lruList.Back()
	if elem != nil {
		c.lruList.Remove(elem)
		delete(c.items, elem.Value.(*lruEntry[V]).key)
	}
}

// Len returns the current number of items in the cache.
func (c *lruCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}
