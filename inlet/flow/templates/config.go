// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"time"

	"cnetflow/common/helpers"
)

// Configuration describes the configuration of a template cache.
type Configuration struct {
	// Buckets is the number of slots of the template table.
	Buckets int `validate:"min=16"`
	// ArenaSize is the size of the memory reserved for raw templates
	// and keys.
	ArenaSize int `validate:"min=4096"`
	// ColdStoreTimeout bounds a lookup in the cold store.
	ColdStoreTimeout time.Duration `validate:"min=1ms"`
	// NegativeTTL is how long a template missing from the cold store
	// is not looked up again.
	NegativeTTL time.Duration `validate:"min=1s"`
	// Redis configures the Redis cold store.
	Redis RedisConfiguration
}

// DefaultConfiguration represents the default configuration for a template cache.
func DefaultConfiguration() Configuration {
	return Configuration{
		Buckets:          4096,
		ArenaSize:        4 << 20,
		ColdStoreTimeout: 100 * time.Millisecond,
		NegativeTTL:      time.Minute,
		Redis:            DefaultRedisConfiguration(),
	}
}

// RedisConfiguration describes the configuration of the Redis cold store.
type RedisConfiguration struct {
	// Enable enables the Redis cold store.
	Enable bool
	// Server is the address of the Redis server.
	Server string `validate:"required_if=Enable true,omitempty,listen"`
	// Password is the password to authenticate with.
	Password string
	// DB is the Redis database to use.
	DB int `validate:"min=0"`
	// Prefix is prepended to every key.
	Prefix string
	// TTL is the expiration of stored templates. 0 means no expiration.
	TTL time.Duration `validate:"min=0"`
	// TLS defines TLS configuration to connect to Redis.
	TLS helpers.TLSConfiguration
}

// DefaultRedisConfiguration represents the default configuration for the Redis cold store.
func DefaultRedisConfiguration() RedisConfiguration {
	return RedisConfiguration{
		Server: "127.0.0.1:6379",
		Prefix: "cnetflow:template:",
		TTL:    24 * time.Hour,
	}
}
