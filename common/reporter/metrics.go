// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Metrics façade for reporter. Metric names are automatically
// prefixed with the name of the calling package. Registering the same
// metric twice returns the existing one.

package reporter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Aliases to avoid importing prometheus package from components.
type (
	CounterOpts   = prometheus.CounterOpts   // CounterOpts defines options for counters
	GaugeOpts     = prometheus.GaugeOpts     // GaugeOpts defines options for gauges
	HistogramOpts = prometheus.HistogramOpts // HistogramOpts defines options for histograms
	SummaryOpts   = prometheus.SummaryOpts   // SummaryOpts defines options for summaries

	Counter      = prometheus.Counter      // Counter is a counter
	CounterFunc  = prometheus.CounterFunc  // CounterFunc is a counter computed on demand
	CounterVec   = prometheus.CounterVec   // CounterVec is a labeled counter
	Gauge        = prometheus.Gauge        // Gauge is a gauge
	GaugeFunc    = prometheus.GaugeFunc    // GaugeFunc is a gauge computed on demand
	GaugeVec     = prometheus.GaugeVec     // GaugeVec is a labeled gauge
	Histogram    = prometheus.Histogram    // Histogram is an histogram
	HistogramVec = prometheus.HistogramVec // HistogramVec is a labeled histogram
	Summary      = prometheus.Summary      // Summary is a summary
	SummaryVec   = prometheus.SummaryVec   // SummaryVec is a labeled summary
	MetricDesc   = prometheus.Desc         // MetricDesc describes a metric for custom collectors
)

// Counter registers a new counter.
func (r *Reporter) Counter(opts CounterOpts) Counter {
	return r.metrics.Factory(1).NewCounter(opts)
}

// CounterFunc registers a new counter function.
func (r *Reporter) CounterFunc(opts CounterOpts, function func() float64) CounterFunc {
	return r.metrics.Factory(1).NewCounterFunc(opts, function)
}

// CounterVec registers a new counter vector.
func (r *Reporter) CounterVec(opts CounterOpts, labelNames []string) *CounterVec {
	return r.metrics.Factory(1).NewCounterVec(opts, labelNames)
}

// Gauge registers a new gauge.
func (r *Reporter) Gauge(opts GaugeOpts) Gauge {
	return r.metrics.Factory(1).NewGauge(opts)
}

// GaugeFunc registers a new gauge function.
func (r *Reporter) GaugeFunc(opts GaugeOpts, function func() float64) GaugeFunc {
	return r.metrics.Factory(1).NewGaugeFunc(opts, function)
}

// GaugeVec registers a new gauge vector.
func (r *Reporter) GaugeVec(opts GaugeOpts, labelNames []string) *GaugeVec {
	return r.metrics.Factory(1).NewGaugeVec(opts, labelNames)
}

// Histogram registers a new histogram.
func (r *Reporter) Histogram(opts HistogramOpts) Histogram {
	return r.metrics.Factory(1).NewHistogram(opts)
}

// HistogramVec registers a new histogram vector.
func (r *Reporter) HistogramVec(opts HistogramOpts, labelNames []string) *HistogramVec {
	return r.metrics.Factory(1).NewHistogramVec(opts, labelNames)
}

// Summary registers a new summary.
func (r *Reporter) Summary(opts SummaryOpts) Summary {
	return r.metrics.Factory(1).NewSummary(opts)
}

// SummaryVec registers a new summary vector.
func (r *Reporter) SummaryVec(opts SummaryOpts, labelNames []string) *SummaryVec {
	return r.metrics.Factory(1).NewSummaryVec(opts, labelNames)
}

// MetricsHTTPHandler returns the HTTP handler to get metrics.
func (r *Reporter) MetricsHTTPHandler() http.Handler {
	return r.metrics.HTTPHandler()
}

// RegisterMetricCollector registers a custom collector. Metric names
// are prefixed with the calling module.
func (r *Reporter) RegisterMetricCollector(c prometheus.Collector) {
	r.metrics.CollectorForCurrentModule(1, c)
}

// UnregisterMetricCollector removes a collector registered with
// RegisterMetricCollector.
func (r *Reporter) UnregisterMetricCollector(c prometheus.Collector) {
	r.metrics.UnregisterCollectorForCurrentModule(1, c)
}
