// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cnetflow/common/helpers"
)

func TestRedisColdStore(t *testing.T) {
	server := helpers.CheckExternalService(t, "Redis", []string{"redis:6379", "127.0.0.1:6379"})
	config := DefaultRedisConfiguration()
	config.Enable = true
	config.Server = server
	config.Prefix = fmt.Sprintf("cnetflow:test:%d:", time.Now().UnixNano())
	config.TTL = time.Minute
	store, err := NewRedisColdStore(config)
	if err != nil {
		t.Fatalf("NewRedisColdStore() error:\n%+v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error:\n%+v", err)
	}

	if _, err := store.GetTemplate(ctx, "ipfix:192.0.2.1-256"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTemplate() error:\n%+v", err)
	}
	raw := testTpl.Bytes()
	if err := store.SetTemplate(ctx, "ipfix:192.0.2.1-256", raw); err != nil {
		t.Fatalf("SetTemplate() error:\n%+v", err)
	}
	got, err := store.GetTemplate(ctx, "ipfix:192.0.2.1-256")
	if err != nil {
		t.Fatalf("GetTemplate() error:\n%+v", err)
	}
	if diff := helpers.Diff(got, raw); diff != "" {
		t.Errorf("GetTemplate() (-got, +want):\n%s", diff)
	}
	if err := store.DeleteTemplate(ctx, "ipfix:192.0.2.1-256"); err != nil {
		t.Fatalf("DeleteTemplate() error:\n%+v", err)
	}
	if _, err := store.GetTemplate(ctx, "ipfix:192.0.2.1-256"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTemplate() after delete error:\n%+v", err)
	}
}

func TestRedisColdStoreInvalidTLS(t *testing.T) {
	config := DefaultRedisConfiguration()
	config.Enable = true
	config.TLS.Enable = true
	config.TLS.CAFile = "/nonexistent/ca.pem"
	if _, err := NewRedisColdStore(config); err == nil {
		t.Fatal("NewRedisColdStore() did not error")
	}
}
