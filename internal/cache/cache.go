// Package cache provides the in-process cache used by the caching
// permission evaluator.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a bounded key/value cache.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Delete(key string)
	Clear()
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// LRU implements an LRU cache with TTL support.
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// NewLRU creates an LRU cache holding at most capacity entries for at most
// ttl each.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a live value.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.remove(elem)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	c.order.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRU) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}

	elem := c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

// Delete removes a key.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

// Clear removes all entries.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats reports hit/miss counters.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Size: size, Hits: hits, Misses: misses, HitRate: hitRate}
}

func (c *LRU) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
