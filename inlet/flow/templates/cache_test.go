// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"cnetflow/common/arena"
	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
)

type fakeColdStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int
	failGet bool
}

func newFakeColdStore() *fakeColdStore {
	return &fakeColdStore{data: map[string][]byte{}}
}

func (s *fakeColdStore) GetTemplate(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet {
		return nil, errors.New("connection refused")
	}
	raw, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (s *fakeColdStore) SetTemplate(_ context.Context, key string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte{}, raw...)
	return nil
}

func (s *fakeColdStore) DeleteTemplate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func newTestCache(t *testing.T, deps Dependencies) *Cache {
	t.Helper()
	r := reporter.NewMock(t)
	config := DefaultConfiguration()
	config.Buckets = 64
	config.ArenaSize = 4096
	c, err := NewCache(r, FamilyIPFIX, config, deps)
	if err != nil {
		t.Fatalf("NewCache() error:\n%+v", err)
	}
	return c
}

var (
	testKey = Key{Exporter: decoder.ExporterID(0xc0000201), TemplateID: 256}
	testTpl = &Template{
		ID:        256,
		Fields:    []Field{{Type: 8, Length: 4}, {Type: 12, Length: 4}, {Type: 1, Length: 8}},
		MinLength: 16,
	}
)

func TestCacheSetGet(t *testing.T) {
	a, _ := arena.New(4096)
	c := newTestCache(t, Dependencies{Arena: a})
	ctx := context.Background()

	if _, ok := c.Get(ctx, testKey); ok {
		t.Fatal("Get() found a template in an empty cache")
	}
	result, err := c.Set(ctx, testKey, testTpl)
	if err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if result != Added {
		t.Errorf("Set() == %s, expected added", result)
	}
	got, ok := c.Get(ctx, testKey)
	if !ok {
		t.Fatal("Get() did not find template")
	}
	if diff := helpers.Diff(got, testTpl); diff != "" {
		t.Errorf("Get() (-got, +want):\n%s", diff)
	}

	// Other exporter, same ID
	other := Key{Exporter: decoder.ExporterID(0xc0000202), TemplateID: 256}
	if _, ok := c.Get(ctx, other); ok {
		t.Error("Get() found template of another exporter")
	}

	// Retransmission: nothing allocated
	stats := a.Stats()
	same := &Template{ID: 256, Fields: append([]Field{}, testTpl.Fields...), MinLength: 16}
	result, err = c.Set(ctx, testKey, same)
	if err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if result != Unchanged {
		t.Errorf("Set() == %s, expected unchanged", result)
	}
	if diff := helpers.Diff(a.Stats(), stats); diff != "" {
		t.Errorf("Set() with same template changed arena (-got, +want):\n%s", diff)
	}
	if got, _ := c.Get(ctx, testKey); got != testTpl {
		t.Error("Set() with same template replaced it")
	}

	// Update: old encoding is freed
	updated := &Template{ID: 256, Fields: []Field{{Type: 8, Length: 4}}, MinLength: 4}
	result, err = c.Set(ctx, testKey, updated)
	if err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if result != Updated {
		t.Errorf("Set() == %s, expected updated", result)
	}
	if got, _ := c.Get(ctx, testKey); got != updated {
		t.Error("Get() did not return updated template")
	}
	if got, expected := a.Stats().InUse, stats.InUse-testTpl.EncodedLength()+updated.EncodedLength(); got != expected {
		t.Errorf("InUse == %d, expected %d", got, expected)
	}
	if c.Len() != 1 {
		t.Errorf("Len() == %d, expected 1", c.Len())
	}

	gotMetrics := c.r.GetMetrics("cnetflow_inlet_flow_templates_")
	expectedMetrics := map[string]string{
		`entries{family="ipfix"}`:                          "1",
		`updates_total{family="ipfix",result="added"}`:     "1",
		`updates_total{family="ipfix",result="unchanged"}`: "1",
		`updates_total{family="ipfix",result="updated"}`:   "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestCacheDelete(t *testing.T) {
	a, _ := arena.New(4096)
	c := newTestCache(t, Dependencies{Arena: a})
	ctx := context.Background()
	empty := a.Stats().InUse

	if _, err := c.Set(ctx, testKey, testTpl); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if !c.Delete(ctx, testKey) {
		t.Error("Delete() == false")
	}
	if c.Delete(ctx, testKey) {
		t.Error("Delete() twice == true")
	}
	if _, ok := c.Get(ctx, testKey); ok {
		t.Error("Get() found deleted template")
	}
	if got := a.Stats().InUse; got != empty {
		t.Errorf("InUse == %d after Delete(), expected %d", got, empty)
	}

	// A template without field is a withdrawal
	if _, err := c.Set(ctx, testKey, testTpl); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if _, err := c.Set(ctx, testKey, &Template{ID: 256}); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if _, ok := c.Get(ctx, testKey); ok {
		t.Error("Get() found withdrawn template")
	}
}

func TestCacheExhausted(t *testing.T) {
	a, _ := arena.New(64)
	c := newTestCache(t, Dependencies{Arena: a})
	ctx := context.Background()
	large := &Template{ID: 300}
	for i := range 20 {
		large.Fields = append(large.Fields, Field{Type: uint16(i + 1), Length: 4})
	}
	_, err := c.Set(ctx, Key{TemplateID: 300}, large)
	if !errors.Is(err, arena.ErrOutOfMemory) {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if _, ok := c.Get(ctx, Key{TemplateID: 300}); ok {
		t.Error("Get() found a template that could not be stored")
	}
	// Smaller templates still fit
	if _, err := c.Set(ctx, testKey, testTpl); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
}

func TestCacheDeleteFreeError(t *testing.T) {
	a, _ := arena.New(4096)
	c := newTestCache(t, Dependencies{Arena: a})
	ctx := context.Background()
	if _, err := c.Set(ctx, testKey, testTpl); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	a.Destroy()
	if !c.Delete(ctx, testKey) {
		t.Error("Delete() did not find template")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len() == %d, expected 0", got)
	}
}

func TestCacheFailedUpdate(t *testing.T) {
	a, _ := arena.New(64)
	store := newFakeColdStore()
	c := newTestCache(t, Dependencies{Arena: a, ColdStore: store})
	ctx := context.Background()
	key := Key{Exporter: decoder.ExporterID(0xc0000201), TemplateID: 300}
	small := &Template{
		ID:        300,
		Fields:    []Field{{Type: 8, Length: 4}, {Type: 12, Length: 4}},
		MinLength: 8,
	}
	if _, err := c.Set(ctx, key, small); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}

	large := &Template{ID: 300}
	for i := range 20 {
		large.Fields = append(large.Fields, Field{Type: uint16(i + 1), Length: 4})
		large.MinLength += 4
	}
	if _, err := c.Set(ctx, key, large); !errors.Is(err, arena.ErrOutOfMemory) {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len() == %d, expected 0", got)
	}
	if got := a.Stats().InUse; got != 0 {
		t.Errorf("Stats().InUse == %d, expected 0", got)
	}
	// The previous layout is gone, the cold store knows the new one.
	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("Get() did not find template in cold store")
	}
	if diff := helpers.Diff(got.Fields, large.Fields); diff != "" {
		t.Errorf("Get() (-got, +want):\n%s", diff)
	}

	// Without a cold store, the template is missing.
	a2, _ := arena.New(64)
	c2 := newTestCache(t, Dependencies{Arena: a2})
	c2.Set(ctx, key, small)
	if _, err := c2.Set(ctx, key, large); err == nil {
		t.Fatal("Set() did not error")
	}
	if _, ok := c2.Get(ctx, key); ok {
		t.Error("Get() returned a replaced template")
	}
}

func TestCacheColdStore(t *testing.T) {
	store := newFakeColdStore()
	mockClock := clock.NewMock()
	ctx := context.Background()

	c1 := newTestCache(t, Dependencies{ColdStore: store, Clock: mockClock})
	if _, err := c1.Set(ctx, testKey, testTpl); err != nil {
		t.Fatalf("Set() error:\n%+v", err)
	}
	if _, ok := store.data["ipfix:192.0.2.1-256"]; !ok {
		t.Fatalf("Set() did not write through cold store: %v", store.data)
	}

	// A new cache gets the template from the cold store.
	c2 := newTestCache(t, Dependencies{ColdStore: store, Clock: mockClock})
	got, ok := c2.Get(ctx, testKey)
	if !ok {
		t.Fatal("Get() did not read through cold store")
	}
	if diff := helpers.Diff(got, testTpl); diff != "" {
		t.Errorf("Get() (-got, +want):\n%s", diff)
	}
	gets := store.gets
	if _, ok := c2.Get(ctx, testKey); !ok {
		t.Fatal("Get() did not find template")
	}
	if store.gets != gets {
		t.Error("Get() queried cold store for a template in memory")
	}

	// Missing templates are negatively cached.
	missing := Key{Exporter: testKey.Exporter, TemplateID: 999}
	if _, ok := c2.Get(ctx, missing); ok {
		t.Fatal("Get() found missing template")
	}
	gets = store.gets
	if _, ok := c2.Get(ctx, missing); ok {
		t.Fatal("Get() found missing template")
	}
	if store.gets != gets {
		t.Error("Get() queried cold store for a negatively cached template")
	}
	mockClock.Add(2 * time.Minute)
	c2.Get(ctx, missing)
	if store.gets != gets+1 {
		t.Error("Get() did not query cold store after negative TTL")
	}

	// Withdrawal propagates.
	c2.Delete(ctx, testKey)
	if _, ok := store.data["ipfix:192.0.2.1-256"]; ok {
		t.Error("Delete() did not remove template from cold store")
	}

	// Errors are like misses.
	store.failGet = true
	c3 := newTestCache(t, Dependencies{ColdStore: store, Clock: mockClock})
	if _, ok := c3.Get(ctx, Key{TemplateID: 1}); ok {
		t.Error("Get() found a template on cold store error")
	}

	gotMetrics := c3.r.GetMetrics("cnetflow_inlet_flow_templates_", "coldstore_")
	expectedMetrics := map[string]string{
		`coldstore_requests_total{family="ipfix",request="get",result="error"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestCacheConcurrent(t *testing.T) {
	c := newTestCache(t, Dependencies{})
	ctx := context.Background()
	tpl1 := testTpl
	tpl2 := &Template{ID: 256, Fields: []Field{{Type: 8, Length: 4}}, MinLength: 4}
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 200 {
				tpl := tpl1
				if (i+w)%2 == 0 {
					tpl = tpl2
				}
				if _, err := c.Set(ctx, testKey, tpl); err != nil {
					t.Errorf("Set() error:\n%+v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 200 {
				if got, ok := c.Get(ctx, testKey); ok && got != tpl1 && got != tpl2 {
					t.Error("Get() returned an unexpected template")
					return
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("Len() == %d, expected 1", c.Len())
	}
}

func TestCacheDeleteExporter(t *testing.T) {
	c := newTestCache(t, Dependencies{})
	ctx := context.Background()
	for _, key := range []Key{
		{Exporter: 1, TemplateID: 256},
		{Exporter: 1, TemplateID: 257},
		{Exporter: 2, TemplateID: 256},
	} {
		tpl := &Template{ID: key.TemplateID, Fields: testTpl.Fields, MinLength: testTpl.MinLength}
		if _, err := c.Set(ctx, key, tpl); err != nil {
			t.Fatalf("Set() error:\n%+v", err)
		}
	}
	if got := c.DeleteExporter(ctx, 1); got != 2 {
		t.Errorf("DeleteExporter() == %d, expected 2", got)
	}
	if _, ok := c.Get(ctx, Key{Exporter: 2, TemplateID: 256}); !ok {
		t.Error("DeleteExporter() removed a template from another exporter")
	}
	if c.Len() != 1 {
		t.Errorf("Len() == %d, expected 1", c.Len())
	}
}

func TestCacheExpireNegative(t *testing.T) {
	store := newFakeColdStore()
	mockClock := clock.NewMock()
	ctx := context.Background()
	c := newTestCache(t, Dependencies{ColdStore: store, Clock: mockClock})

	for id := range uint16(3) {
		if _, ok := c.Get(ctx, Key{Exporter: testKey.Exporter, TemplateID: 300 + id}); ok {
			t.Fatal("Get() found missing template")
		}
	}
	if got := c.negative.Size(); got != 3 {
		t.Fatalf("negative cache size == %d, expected 3", got)
	}
	mockClock.Add(30 * time.Second)
	if got := c.ExpireNegative(); got != 0 {
		t.Errorf("ExpireNegative() == %d, expected 0", got)
	}
	mockClock.Add(2 * time.Minute)
	if got := c.ExpireNegative(); got != 3 {
		t.Errorf("ExpireNegative() == %d, expected 3", got)
	}
	if got := c.negative.Size(); got != 0 {
		t.Errorf("negative cache size == %d, expected 0", got)
	}
}
