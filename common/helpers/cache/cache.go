// SPDX-FileCopyrightText: 2023 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package cache implements a thread-safe key/value store whose items can be
// expired on their last update. The caller provides the current time on
// updates. Timestamps are stored with a one-second granularity.
package cache

import (
	"sync"
	"time"
)

// Cache is a thread-safe in-memory key/value store
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]item[V]
}

type item[V any] struct {
	object  V
	updated int64
}

// New creates a new empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]item[V]),
	}
}

// Put adds or replaces an object in the cache.
func (c *Cache[K, V]) Put(now time.Time, key K, object V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{object: object, updated: now.Unix()}
}

// Get retrieves an object from the cache.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[key]
	return it.object, ok
}

// Delete removes an object from the cache. It returns true if the object was
// present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// DeleteLastUpdatedBefore expires items whose last update is before the
// provided time. It returns the number of expired items.
func (c *Cache[K, V]) DeleteLastUpdatedBefore(before time.Time) int {
	limit := before.Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for k, v := range c.items {
		if v.updated < limit {
			delete(c.items, k)
			count++
		}
	}
	return count
}

// Size returns the number of items in the cache.
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
