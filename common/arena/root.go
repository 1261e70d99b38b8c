// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package arena implements a bounded memory arena. Memory is reserved
// once at creation and handed out as aligned regions. The arena never
// grows: when a request does not fit, an error is returned.
package arena

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"unsafe"
)

// Alignment is the alignment of every region returned by Alloc.
const Alignment = 8

// MaxCapacity is the largest capacity accepted by New.
const MaxCapacity = 1 << 30

var (
	// ErrOutOfMemory is returned when a request cannot be satisfied.
	ErrOutOfMemory = errors.New("arena out of memory")
	// ErrInvalidSize is returned when requesting a non-positive size.
	ErrInvalidSize = errors.New("invalid allocation size")
	// ErrInvalidRegion is returned when freeing a region the arena does not own.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrDestroyed is returned when using an arena after Destroy().
	ErrDestroyed = errors.New("arena destroyed")
)

// Arena is a contiguous memory region with a bump offset and a free
// list. The free list is sorted by offset and never holds two adjacent
// chunks, nor a chunk ending at the bump offset. It is safe for
// concurrent use.
type Arena struct {
	mu        sync.Mutex
	backing   []uint64
	buf       []byte
	offset    int
	free      []chunk
	allocated map[int]int
	inUse     int
	allocs    uint64
	destroyed bool
}

type chunk struct {
	offset int
	size   int
}

// Stats describes the current usage of an arena.
type Stats struct {
	Capacity    int
	Offset      int
	InUse       int
	Allocations uint64
	FreeSlots   int
}

func align(size int) int {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// New creates a new arena with the provided capacity, rounded up to
// the alignment.
func New(capacity int) (*Arena, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("cannot reserve %d bytes: %w", capacity, ErrOutOfMemory)
	}
	capacity = align(capacity)
	backing := make([]uint64, capacity/Alignment)
	return &Arena{
		backing:   backing,
		buf:       unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), capacity),
		allocated: make(map[int]int),
	}, nil
}

// Alloc returns a zeroed region of the requested size.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil, ErrDestroyed
	}
	needed := align(size)
	if needed > len(a.buf) {
		return nil, ErrOutOfMemory
	}

	offset := -1
	for i, c := range a.free {
		if c.size < needed {
			continue
		}
		offset = c.offset
		if c.size-needed >= Alignment {
			a.free[i] = chunk{offset: c.offset + needed, size: c.size - needed}
		} else {
			needed = c.size
			a.free = slices.Delete(a.free, i, i+1)
		}
		break
	}
	if offset < 0 {
		if a.offset+needed > len(a.buf) {
			return nil, ErrOutOfMemory
		}
		offset = a.offset
		a.offset += needed
	}

	region := a.buf[offset : offset+needed]
	clear(region)
	a.allocated[offset] = needed
	a.inUse += needed
	a.allocs++
	return region[:size:size], nil
}

// Free gives back a region previously returned by Alloc.
func (a *Arena) Free(region []byte) error {
	if len(region) == 0 {
		return ErrInvalidRegion
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}
	start := uintptr(unsafe.Pointer(&a.buf[0]))
	ptr := uintptr(unsafe.Pointer(&region[0]))
	if ptr < start || ptr >= start+uintptr(len(a.buf)) {
		return ErrInvalidRegion
	}
	offset := int(ptr - start)
	size, ok := a.allocated[offset]
	if !ok {
		return ErrInvalidRegion
	}
	delete(a.allocated, offset)
	a.inUse -= size
	a.release(chunk{offset: offset, size: size})
	return nil
}

// release puts a chunk back in the free list, merging it with its
// neighbours. Caller should hold the lock.
func (a *Arena) release(c chunk) {
	i, _ := slices.BinarySearchFunc(a.free, c.offset, func(f chunk, offset int) int {
		return cmp.Compare(f.offset, offset)
	})
	if i < len(a.free) && c.offset+c.size == a.free[i].offset {
		c.size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
	if i > 0 && a.free[i-1].offset+a.free[i-1].size == c.offset {
		i--
		c.offset = a.free[i].offset
		c.size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
	if c.offset+c.size == a.offset {
		a.offset = c.offset
		return
	}
	a.free = slices.Insert(a.free, i, c)
}

// Reset zeroes the whole arena and forgets every allocation. Regions
// handed out before must not be used anymore.
func (a *Arena) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}
	clear(a.buf)
	a.offset = 0
	a.free = nil
	a.allocated = make(map[int]int)
	a.inUse = 0
	a.allocs = 0
	return nil
}

// Destroy releases the backing memory. It can only be called once.
func (a *Arena) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrDestroyed
	}
	a.destroyed = true
	a.backing = nil
	a.buf = nil
	a.free = nil
	a.allocated = nil
	a.offset = 0
	a.inUse = 0
	return nil
}

// Stats returns usage statistics.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Capacity:    len(a.buf),
		Offset:      a.offset,
		InUse:       a.inUse,
		Allocations: a.allocs,
		FreeSlots:   len(a.free),
	}
}
