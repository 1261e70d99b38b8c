// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by a cold store when a template is unknown.
var ErrNotFound = errors.New("template not found")

// ColdStore persists raw templates outside of the process so they
// survive a restart.
type ColdStore interface {
	GetTemplate(ctx context.Context, key string) ([]byte, error)
	SetTemplate(ctx context.Context, key string, raw []byte) error
	DeleteTemplate(ctx context.Context, key string) error
}

// RedisColdStore is a cold store backed by Redis.
type RedisColdStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisColdStore creates a new Redis cold store. The connection is
// established lazily.
func NewRedisColdStore(config RedisConfiguration) (*RedisColdStore, error) {
	tlsConfig, err := config.TLS.MakeTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot setup TLS for Redis: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:      config.Server,
		Password:  config.Password,
		DB:        config.DB,
		TLSConfig: tlsConfig,
	})
	return &RedisColdStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}, nil
}

// Ping checks the connection to Redis.
func (s *RedisColdStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection to Redis.
func (s *RedisColdStore) Close() error {
	return s.client.Close()
}

// GetTemplate fetches a raw template from Redis.
func (s *RedisColdStore) GetTemplate(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot get template %s: %w", key, err)
	}
	return raw, nil
}

// SetTemplate stores a raw template into Redis.
func (s *RedisColdStore) SetTemplate(ctx context.Context, key string, raw []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("cannot set template %s: %w", key, err)
	}
	return nil
}

// DeleteTemplate removes a template from Redis.
func (s *RedisColdStore) DeleteTemplate(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("cannot delete template %s: %w", key, err)
	}
	return nil
}
