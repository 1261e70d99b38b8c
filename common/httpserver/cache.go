// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package httpserver

import (
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/gin-gonic/gin"

	"cnetflow/common/reporter"
)

// CacheByRequestURI is a middleware caching responses for the provided
// duration. The key is the request URI, query string included.
func (c *Component) CacheByRequestURI(expire time.Duration) gin.HandlerFunc {
	return cache.Cache(c.cacheStore, expire,
		cache.WithLogger(cacheLogger{c.r}),
		cache.WithPrefixKey("cache-"),
		cache.WithCacheStrategyByRequest(func(gc *gin.Context) (bool, cache.Strategy) {
			return true, cache.Strategy{CacheKey: gc.Request.URL.RequestURI()}
		}),
		cache.WithOnHitCache(func(gc *gin.Context) {
			c.metrics.cacheHit.WithLabelValues(gc.Request.URL.Path, gc.Request.Method).Inc()
		}),
		cache.WithOnMissCache(func(gc *gin.Context) {
			c.metrics.cacheMiss.WithLabelValues(gc.Request.URL.Path, gc.Request.Method).Inc()
		}),
	)
}

type cacheLogger struct {
	r *reporter.Reporter
}

func (cl cacheLogger) Errorf(msg string, args ...interface{}) {
	cl.r.Error().Msgf(msg, args...)
}
