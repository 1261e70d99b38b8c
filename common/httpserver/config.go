// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package httpserver

import (
	"context"
	"fmt"
	"time"

	"cnetflow/common/helpers"

	"github.com/chenyahui/gin-cache/persist"
	"github.com/go-redis/redis/v8"
)

// Configuration describes the configuration for the HTTP server.
type Configuration struct {
	// Listen is the TCP address for the API and the metrics.
	Listen string `validate:"required,listen"`
	// Profiler exposes pprof endpoints below /debug/pprof.
	Profiler bool
	// Cache is the store used to cache API responses.
	Cache CacheConfiguration
}

// CacheConfiguration describes the configuration of the HTTP cache used by
// the API endpoints. The "type" key selects the backend (memory or redis).
type CacheConfiguration struct {
	Config CacheBackendConfiguration
}

// CacheBackendConfiguration is implemented by each cache backend.
type CacheBackendConfiguration interface {
	New() (persist.CacheStore, error)
}

// MemoryCacheConfiguration configures a cache local to the process.
type MemoryCacheConfiguration struct {
	// CleanupInterval tells how often expired entries are purged.
	CleanupInterval time.Duration `validate:"min=1s"`
}

// New creates an in-memory cache store.
func (c MemoryCacheConfiguration) New() (persist.CacheStore, error) {
	return persist.NewMemoryStore(c.CleanupInterval), nil
}

// DefaultMemoryCacheConfiguration returns the default configuration for an
// in-memory cache.
func DefaultMemoryCacheConfiguration() CacheBackendConfiguration {
	return MemoryCacheConfiguration{CleanupInterval: 5 * time.Minute}
}

// RedisCacheConfiguration is the configuration for a Redis cache.
type RedisCacheConfiguration struct {
	// Protocol is either tcp or unix.
	Protocol string `validate:"oneof=tcp unix"`
	// Server is the address of the Redis server.
	Server   string `validate:"required,listen"`
	Username string
	Password string
	// DB is the database number.
	DB       int
	TLS      helpers.TLSConfiguration
}

// New connects to Redis and returns a cache store using it. The server
// must answer a ping.
func (c RedisCacheConfiguration) New() (persist.CacheStore, error) {
	tlsConfig, err := c.TLS.MakeTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot setup TLS for Redis cache: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Network:   c.Protocol,
		Addr:      c.Server,
		Username:  c.Username,
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: tlsConfig,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot ping Redis server: %w", err)
	}
	return persist.NewRedisStore(client), nil
}

// DefaultRedisCacheConfiguration returns the default configuration for a
// Redis-backed cache.
func DefaultRedisCacheConfiguration() CacheBackendConfiguration {
	return RedisCacheConfiguration{
		Protocol: "tcp",
		Server:   "127.0.0.1:6379",
	}
}

// DefaultConfiguration is the default configuration of the HTTP server.
func DefaultConfiguration() Configuration {
	return Configuration{
		Listen: "0.0.0.0:8080",
		Cache: CacheConfiguration{
			Config: DefaultMemoryCacheConfiguration(),
		},
	}
}

// MarshalYAML flattens the cache configuration with its type.
func (cc CacheConfiguration) MarshalYAML() (interface{}, error) {
	return helpers.ParametrizedConfigurationMarshalYAML(cc, cacheConfigurationMap)
}

var cacheConfigurationMap = map[string](func() CacheBackendConfiguration){
	"memory": DefaultMemoryCacheConfiguration,
	"redis":  DefaultRedisCacheConfiguration,
}

func init() {
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.ParametrizedConfigurationUnmarshallerHook(CacheConfiguration{}, cacheConfigurationMap))
}
