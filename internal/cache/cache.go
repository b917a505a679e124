// Package cache provides the in-process stores that back dashboard series memoization.
// Entries never outlive the process; there is no shared or persistent backend.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Options configures a Local cache.
type Options struct {
	// TTL expires entries this long after they were set. Zero keeps entries for the
	// lifetime of the cache.
	TTL time.Duration

	// MaxEntries evicts the least recently used entry once exceeded. Zero means unbounded.
	MaxEntries int
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Local is a mutex-guarded in-memory map with optional TTL and LRU bounds.
// It is safe for concurrent use.
type Local[K comparable, V any] struct {
	mu    sync.Mutex
	opts  Options
	items map[K]*list.Element
	order *list.List
	now   func() time.Time
}

// NewLocal creates an empty cache.
func NewLocal[K comparable, V any](opts Options) *Local[K, V] {
	return &Local[K, V]{
		opts:  opts,
		items: make(map[K]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// Get returns the value stored under key, if present and not expired.
func (c *Local[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	e := elem.Value.(*entry[K, V])
	if c.expired(e) {
		c.remove(elem)
		return zero, false
	}

	c.order.MoveToFront(elem)
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Local[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[K, V]{key: key, value: value}
	if c.opts.TTL > 0 {
		e.expiresAt = c.now().Add(c.opts.TTL)
	}

	if elem, ok := c.items[key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(e)

	if c.opts.MaxEntries > 0 && c.order.Len() > c.opts.MaxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
}

// Delete removes key if present.
func (c *Local[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

// Clear drops every entry and returns how many were removed.
func (c *Local[K, V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.items = make(map[K]*list.Element)
	c.order.Init()
	return n
}

// DeleteExpired removes expired entries and returns how many were removed.
func (c *Local[K, V]) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.TTL <= 0 {
		return 0
	}

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*entry[K, V])) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Local[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Local[K, V]) expired(e *entry[K, V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *Local[K, V]) remove(elem *list.Element) {
	e := elem.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.order.Remove(elem)
}
