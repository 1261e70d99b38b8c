// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package templates stores NetFlow v9 and IPFIX templates, keyed by
// exporter and template ID.
package templates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"cnetflow/common/arena"
	"cnetflow/common/helpers/cache"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
)

// Cache is a template cache for one template family. Reads are
// lock-free with respect to writers of other keys and return immutable
// templates. Writes are serialized.
type Cache struct {
	r      *reporter.Reporter
	d      Dependencies
	config Configuration
	family Family

	errLogger reporter.Logger

	// mu serializes updates. Raw encodings in the arena are only
	// accessed while holding it.
	mu       sync.Mutex
	entries  *Map[*entry]
	negative *cache.Cache[string, time.Time]

	metrics struct {
		entries   *reporter.GaugeVec
		updates   *reporter.CounterVec
		coldStore *reporter.CounterVec
	}
}

// Dependencies are the dependencies of a template cache.
type Dependencies struct {
	Arena     *arena.Arena
	ColdStore ColdStore
	Clock     clock.Clock
}

type entry struct {
	tpl *Template
	raw []byte
}

// SetResult tells what Set() did.
type SetResult int

const (
	// Unchanged means the same template was already present.
	Unchanged SetResult = iota
	// Added means the template was not present.
	Added
	// Updated means the template replaced a different one.
	Updated
)

func (r SetResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Updated:
		return "updated"
	}
	return "unknown"
}

// NewCache creates a new template cache.
func NewCache(r *reporter.Reporter, family Family, config Configuration, dependencies Dependencies) (*Cache, error) {
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	if dependencies.Arena == nil {
		a, err := arena.New(config.ArenaSize)
		if err != nil {
			return nil, fmt.Errorf("cannot create template arena: %w", err)
		}
		dependencies.Arena = a
	}
	entries, err := NewMap[*entry](dependencies.Arena, config.Buckets)
	if err != nil {
		return nil, fmt.Errorf("cannot create template map: %w", err)
	}
	c := &Cache{
		r:         r,
		d:         dependencies,
		config:    config,
		family:    family,
		errLogger: r.Sample(reporter.BurstSampler(30*time.Second, 3)),
		entries:   entries,
		negative:  cache.New[string, time.Time](),
	}
	c.metrics.entries = r.GaugeVec(
		reporter.GaugeOpts{
			Name: "entries",
			Help: "Number of templates in cache.",
		},
		[]string{"family"},
	)
	c.metrics.updates = r.CounterVec(
		reporter.CounterOpts{
			Name: "updates_total",
			Help: "Number of template updates.",
		},
		[]string{"family", "result"},
	)
	c.metrics.coldStore = r.CounterVec(
		reporter.CounterOpts{
			Name: "coldstore_requests_total",
			Help: "Number of requests to the template cold store.",
		},
		[]string{"family", "request", "result"},
	)
	return c, nil
}

// Family returns the template family handled by the cache.
func (c *Cache) Family() Family {
	return c.family
}

func (c *Cache) coldKey(key Key) string {
	return fmt.Sprintf("%s:%s", c.family, key)
}

// Get returns the template for the provided key. When the template is
// not in memory, it is looked up in the cold store, if any.
func (c *Cache) Get(ctx context.Context, key Key) (*Template, bool) {
	k := key.Bytes()
	if e, ok := c.entries.Get(k[:]); ok {
		return e.tpl, true
	}
	if c.d.ColdStore == nil {
		return nil, false
	}
	return c.getFromColdStore(ctx, key)
}

func (c *Cache) getFromColdStore(ctx context.Context, key Key) (*Template, bool) {
	coldKey := c.coldKey(key)
	now := c.d.Clock.Now()
	if expiry, ok := c.negative.Get(coldKey); ok {
		if now.Before(expiry) {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "get", "negative").Inc()
			return nil, false
		}
		c.negative.Delete(coldKey)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ColdStoreTimeout)
	defer cancel()
	raw, err := c.d.ColdStore.GetTemplate(ctx, coldKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "get", "miss").Inc()
		} else {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "get", "error").Inc()
			c.errLogger.Err(err).Str("key", coldKey).Msg("cannot get template from cold store")
		}
		c.negative.Put(now, coldKey, now.Add(c.config.NegativeTTL))
		return nil, false
	}
	tpl, err := ParseRawTemplate(c.family, raw)
	if err != nil || tpl.ID != key.TemplateID || len(tpl.Fields) == 0 {
		c.metrics.coldStore.WithLabelValues(c.family.String(), "get", "invalid").Inc()
		c.errLogger.Error().Str("key", coldKey).Msg("invalid template in cold store")
		c.negative.Put(now, coldKey, now.Add(c.config.NegativeTTL))
		return nil, false
	}
	c.metrics.coldStore.WithLabelValues(c.family.String(), "get", "hit").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	// A template may have been received while we were waiting.
	k := key.Bytes()
	if e, ok := c.entries.Get(k[:]); ok {
		return e.tpl, true
	}
	if _, err := c.store(k[:], tpl, nil); err != nil {
		c.errLogger.Err(err).Str("key", coldKey).Msg("cannot store template from cold store")
	}
	return tpl, true
}

// store saves the template in memory, replacing old if not nil. Caller
// should hold the lock.
func (c *Cache) store(k []byte, tpl *Template, old *entry) (SetResult, error) {
	raw, err := c.d.Arena.Alloc(tpl.EncodedLength())
	if err != nil {
		return Unchanged, fmt.Errorf("cannot store template %d: %w", tpl.ID, err)
	}
	tpl.Encode(raw)
	if err := c.entries.Set(k, &entry{tpl: tpl, raw: raw}); err != nil {
		c.free(raw)
		return Unchanged, err
	}
	if old != nil {
		c.free(old.raw)
		return Updated, nil
	}
	c.metrics.entries.WithLabelValues(c.family.String()).Inc()
	return Added, nil
}

// Set stores a template. A template identical to the stored one is
// left untouched. Storing a template without fields deletes it.
func (c *Cache) Set(ctx context.Context, key Key, tpl *Template) (SetResult, error) {
	if len(tpl.Fields) == 0 {
		c.Delete(ctx, key)
		return Unchanged, nil
	}
	k := key.Bytes()
	c.mu.Lock()
	old, ok := c.entries.Get(k[:])
	if ok && tpl.sameEncoding(old.raw) {
		c.mu.Unlock()
		c.metrics.updates.WithLabelValues(c.family.String(), Unchanged.String()).Inc()
		return Unchanged, nil
	}
	if !ok {
		old = nil
	}
	result, err := c.store(k[:], tpl, old)
	if err != nil && old != nil {
		// The exporter replaced this template, its data sets cannot be
		// decoded with the previous layout.
		c.evict(k[:])
	}
	c.mu.Unlock()
	if err != nil {
		c.metrics.updates.WithLabelValues(c.family.String(), "error").Inc()
	} else {
		c.metrics.updates.WithLabelValues(c.family.String(), result.String()).Inc()
	}

	if c.d.ColdStore != nil {
		coldKey := c.coldKey(key)
		c.negative.Delete(coldKey)
		ctx, cancel := context.WithTimeout(ctx, c.config.ColdStoreTimeout)
		defer cancel()
		if err := c.d.ColdStore.SetTemplate(ctx, coldKey, tpl.Bytes()); err != nil {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "set", "error").Inc()
			c.errLogger.Err(err).Str("key", coldKey).Msg("cannot save template to cold store")
		} else {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "set", "ok").Inc()
		}
	}
	return result, err
}

// evict removes a template from memory. Caller should hold the lock.
func (c *Cache) evict(k []byte) bool {
	old, ok, err := c.entries.Delete(k)
	if err != nil {
		c.errLogger.Err(err).Str("family", c.family.String()).Msg("cannot free template key")
	}
	if !ok {
		return false
	}
	c.free(old.raw)
	c.metrics.entries.WithLabelValues(c.family.String()).Dec()
	return true
}

func (c *Cache) free(raw []byte) {
	if err := c.d.Arena.Free(raw); err != nil {
		c.errLogger.Err(err).Str("family", c.family.String()).Msg("cannot free template")
	}
}

// Delete removes a template. It returns true if the template was
// present in memory.
func (c *Cache) Delete(ctx context.Context, key Key) bool {
	k := key.Bytes()
	c.mu.Lock()
	ok := c.evict(k[:])
	c.mu.Unlock()
	if ok {
		c.metrics.updates.WithLabelValues(c.family.String(), "deleted").Inc()
	}

	if c.d.ColdStore != nil {
		coldKey := c.coldKey(key)
		ctx, cancel := context.WithTimeout(ctx, c.config.ColdStoreTimeout)
		defer cancel()
		if err := c.d.ColdStore.DeleteTemplate(ctx, coldKey); err != nil {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "delete", "error").Inc()
			c.errLogger.Err(err).Str("key", coldKey).Msg("cannot delete template from cold store")
		} else {
			c.metrics.coldStore.WithLabelValues(c.family.String(), "delete", "ok").Inc()
		}
		c.negative.Put(c.d.Clock.Now(), coldKey, c.d.Clock.Now().Add(c.config.NegativeTTL))
	}
	return ok
}

// DeleteExporter removes all the templates of an exporter. It returns
// the number of templates removed from memory.
func (c *Cache) DeleteExporter(ctx context.Context, exporter decoder.ExporterID) int {
	n := 0
	for key := range c.Templates() {
		if key.Exporter == exporter && c.Delete(ctx, key) {
			n++
		}
	}
	return n
}

// ExpireNegative forgets about templates missing from the cold store
// whose negative entry is older than the negative TTL. It returns the
// number of expired entries.
func (c *Cache) ExpireNegative() int {
	return c.negative.DeleteLastUpdatedBefore(c.d.Clock.Now().Add(-c.config.NegativeTTL))
}

// Len returns the number of templates in memory.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Templates returns a snapshot of the templates in memory.
func (c *Cache) Templates() map[Key]*Template {
	result := make(map[Key]*Template, c.entries.Len())
	c.entries.Range(func(k []byte, e *entry) bool {
		key, err := KeyFromBytes(k)
		if err != nil {
			return true
		}
		result[key] = e.tpl
		return true
	})
	return result
}
