// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package httpserver

import "cnetflow/common/reporter"

type metrics struct {
	inflights reporter.Gauge
	requests  *reporter.CounterVec
	durations *reporter.HistogramVec
	sizes     *reporter.HistogramVec
	cacheHit  *reporter.CounterVec
	cacheMiss *reporter.CounterVec
}

func (c *Component) initMetrics() {
	perHandler := []string{"handler", "method"}
	perPath := []string{"path", "method"}
	c.metrics.inflights = c.r.Gauge(reporter.GaugeOpts{
		Name: "inflight_requests",
		Help: "Requests currently served.",
	})
	c.metrics.requests = c.r.CounterVec(reporter.CounterOpts{
		Name: "requests_total",
		Help: "Requests served, by handler and status code.",
	}, []string{"handler", "code", "method"})
	c.metrics.durations = c.r.HistogramVec(reporter.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "Time to serve a request.",
		Buckets: []float64{.25, .5, 1, 2.5, 5, 10},
	}, perHandler)
	c.metrics.sizes = c.r.HistogramVec(reporter.HistogramOpts{
		Name:    "response_size_bytes",
		Help:    "Size of responses.",
		Buckets: []float64{200, 500, 1000, 1500, 5000},
	}, perHandler)
	c.metrics.cacheHit = c.r.CounterVec(reporter.CounterOpts{
		Name: "cache_hit_total",
		Help: "Requests answered from the cache.",
	}, perPath)
	c.metrics.cacheMiss = c.r.CounterVec(reporter.CounterOpts{
		Name: "cache_miss_total",
		Help: "Requests not found in the cache.",
	}, perPath)
}
