/*
Copyright © 2023 mapknit authors
*/

// Package tilecache provides a size-aware LRU cache with a strict byte
// budget. Unlike an entry-counted LRU, the sum of all entry sizes never
// exceeds the configured capacity once a mutation has completed.
package tilecache

import (
	"container/list"
	"sync"
)

// SizeFunc reports the cost of a value against the cache budget.
type SizeFunc[V any] func(v V) int64

// One counts every entry as 1, turning the capacity into an entry count.
func One[V any]() SizeFunc[V] {
	return func(V) int64 { return 1 }
}

// Bytes costs a byte slice by its length.
func Bytes(v []byte) int64 {
	return int64(len(v))
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// Cache is a bounded LRU cache. All operations serialize through one mutex;
// readers never observe a partially evicted state.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	sizeOf   SizeFunc[V]
	items    map[K]*list.Element
	order    *list.List // front = most recently used
}

// New creates a cache with the given capacity. A nil sizeOf counts every
// entry as 1.
func New[K comparable, V any](capacity int64, sizeOf SizeFunc[V]) *Cache[K, V] {
	if sizeOf == nil {
		sizeOf = One[V]()
	}
	return &Cache[K, V]{
		capacity: capacity,
		sizeOf:   sizeOf,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key. A hit marks the entry most recently
// used; a miss has no side effect.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Put stores a value, evicting least-recently-used entries until the budget
// holds again. Replacing an existing key removes the old value's cost before
// adding the new one. A value larger than the whole capacity flushes the
// cache and is not retained.
func (c *Cache[K, V]) Put(key K, value V) {
	size := c.sizeOf(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		c.used -= ent.size
		ent.value = value
		ent.size = size
		c.used += size
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry[K, V]{key: key, value: value, size: size})
		c.items[key] = el
		c.used += size
	}

	for c.used > c.capacity && c.order.Len() > 0 {
		c.evictOldest()
	}
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size returns the tracked cost of all cached entries.
func (c *Cache[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Contains reports whether key is cached without touching recency order.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

func (c *Cache[K, V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, ent.key)
	c.used -= ent.size
}
