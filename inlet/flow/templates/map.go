// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"cnetflow/common/arena"
	"cnetflow/inlet/flow/decoder"
)

// ErrFull is returned when no slot is available in a map.
var ErrFull = fmt.Errorf("map full: %w", decoder.ErrResourceExhausted)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotUsed
	slotDeleted
)

type slot[V any] struct {
	state slotState
	key   []byte
	value V
}

// Map is a fixed-size hash table using open addressing and linear
// probing. Keys are copied into an arena.
type Map[V any] struct {
	mu    sync.RWMutex
	arena *arena.Arena
	slots []slot[V]
	count int
}

// NewMap creates a new map with the provided number of buckets.
func NewMap[V any](a *arena.Arena, buckets int) (*Map[V], error) {
	if buckets <= 0 {
		return nil, fmt.Errorf("invalid number of buckets %d", buckets)
	}
	if a == nil {
		return nil, errors.New("no arena provided")
	}
	return &Map[V]{
		arena: a,
		slots: make([]slot[V], buckets),
	}, nil
}

func (m *Map[V]) index(key []byte) int {
	h := fnv.New64a()
	h.Write(key)
	return int(h.Sum64() % uint64(len(m.slots)))
}

// find returns the slot holding the key or -1.
func (m *Map[V]) find(key []byte) int {
	start := m.index(key)
	for i := range len(m.slots) {
		idx := (start + i) % len(m.slots)
		s := &m.slots[idx]
		switch s.state {
		case slotEmpty:
			return -1
		case slotUsed:
			if bytes.Equal(s.key, key) {
				return idx
			}
		}
	}
	return -1
}

// Get returns the value associated to the key.
func (m *Map[V]) Get(key []byte) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx := m.find(key); idx >= 0 {
		return m.slots[idx].value, true
	}
	var zero V
	return zero, false
}

// Set associates a value to the key, replacing any existing value.
func (m *Map[V]) Set(key []byte, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(key, value)
}

func (m *Map[V]) set(key []byte, value V) error {
	start := m.index(key)
	candidate := -1
	for i := range len(m.slots) {
		idx := (start + i) % len(m.slots)
		s := &m.slots[idx]
		if s.state == slotUsed {
			if bytes.Equal(s.key, key) {
				s.value = value
				return nil
			}
			continue
		}
		if candidate < 0 {
			candidate = idx
		}
		if s.state == slotEmpty {
			break
		}
	}
	if candidate < 0 {
		return ErrFull
	}
	keyCopy, err := m.arena.Alloc(len(key))
	if err != nil {
		return fmt.Errorf("cannot store key: %w: %w", decoder.ErrResourceExhausted, err)
	}
	copy(keyCopy, key)
	m.slots[candidate] = slot[V]{
		state: slotUsed,
		key:   keyCopy,
		value: value,
	}
	m.count++
	return nil
}

// Delete removes the key from the map. It returns the removed value.
// An error is returned when the key copy cannot be given back to the
// arena. The key is removed anyway.
func (m *Map[V]) Delete(key []byte) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delete(key)
}

func (m *Map[V]) delete(key []byte) (V, bool, error) {
	var zero V
	idx := m.find(key)
	if idx < 0 {
		return zero, false, nil
	}
	s := &m.slots[idx]
	value := s.value
	err := m.arena.Free(s.key)
	*s = slot[V]{state: slotDeleted}
	m.count--
	if err != nil {
		return value, true, fmt.Errorf("cannot free key: %w", err)
	}
	return value, true, nil
}

// Len returns the number of keys in the map.
func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Range calls fn for each key and value until fn returns false. The
// key must not be retained.
func (m *Map[V]) Range(fn func(key []byte, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if s.state != slotUsed {
			continue
		}
		if !fn(s.key, s.value) {
			return
		}
	}
}
