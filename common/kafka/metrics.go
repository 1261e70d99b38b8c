// SPDX-FileCopyrightText: 2024 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"

	"cnetflow/common/reporter"
)

type gomKind int

const (
	gomMeter gomKind = iota
	gomCounter
	gomHistogram
)

// gomMetric maps a Sarama metric to a Prometheus one.
type gomMetric struct {
	source    string // name in the go-metrics registry
	perBroker bool   // source is suffixed by "-for-broker-<id>"
	kind      gomKind
	name      string
	help      string
	desc      *reporter.MetricDesc
}

// Metrics exports the go-metrics registry of a Sarama client as
// Prometheus metrics. It includes broker and producer metrics.
type Metrics struct {
	registry gometrics.Registry
	metrics  []gomMetric
}

// Init registers the Kafka-related metrics using the provided go-metrics
// registry as source.
func (m *Metrics) Init(r *reporter.Reporter, registry gometrics.Registry) {
	m.registry = registry
	m.metrics = []gomMetric{
		{"incoming-byte-rate", true, gomMeter, "brokers_incoming_byte_rate",
			"Bytes/second read off a given broker.", nil},
		{"outgoing-byte-rate", true, gomMeter, "brokers_outgoing_byte_rate",
			"Bytes/second written off a given broker.", nil},
		{"request-rate", true, gomMeter, "brokers_request_rate",
			"Requests/second sent to a given broker.", nil},
		{"request-size", true, gomHistogram, "brokers_request_size",
			"Distribution of the request size in bytes for a given broker.", nil},
		{"request-latency-in-ms", true, gomHistogram, "brokers_request_latency_ms",
			"Distribution of the request latency in ms for a given broker.", nil},
		{"response-rate", true, gomMeter, "brokers_response_rate",
			"Responses/second received from a given broker.", nil},
		{"response-size", true, gomHistogram, "brokers_response_bytes",
			"Distribution of the response size in bytes for a given broker.", nil},
		{"requests-in-flight", true, gomCounter, "brokers_inflight_requests",
			"Number of in-flight requests awaiting a response for a given broker.", nil},
		{"batch-size", false, gomHistogram, "producer_batch_bytes",
			"Distribution of the number of bytes sent per partition per request.", nil},
		{"record-send-rate", false, gomMeter, "producer_record_send_rate",
			"Records/second sent.", nil},
		{"records-per-request", false, gomHistogram, "producer_records_per_request",
			"Distribution of the number of records sent per request.", nil},
		{"compression-ratio", false, gomHistogram, "producer_compression_ratio",
			"Distribution of the compression ratio times 100 of record batches.", nil},
	}
	// Names are prefixed on registration.
	for i := range m.metrics {
		var labels []string
		if m.metrics[i].perBroker {
			labels = []string{"broker"}
		}
		m.metrics[i].desc = prometheus.NewDesc(m.metrics[i].name, m.metrics[i].help, labels, nil)
	}
	r.RegisterMetricCollector(m)
}

// Describe collected metrics
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range m.metrics {
		ch <- metric.desc
	}
}

// Collect metrics
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.registry.Each(func(name string, gom interface{}) {
		for _, metric := range m.metrics {
			var labels []string
			if metric.perBroker {
				broker, ok := strings.CutPrefix(name, metric.source+"-for-broker-")
				if !ok {
					continue
				}
				labels = []string{broker}
			} else if name != metric.source {
				continue
			}
			metric.collect(ch, gom, labels)
			return
		}
	})
}

func (metric gomMetric) collect(ch chan<- prometheus.Metric, gom interface{}, labels []string) {
	switch metric.kind {
	case gomMeter:
		if meter, ok := gom.(gometrics.Meter); ok {
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue,
				meter.Snapshot().Rate1(), labels...)
		}
	case gomCounter:
		if counter, ok := gom.(gometrics.Counter); ok {
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue,
				float64(counter.Snapshot().Count()), labels...)
		}
	case gomHistogram:
		if histogram, ok := gom.(gometrics.Histogram); ok {
			snap := histogram.Snapshot()
			quantiles := map[float64]uint64{}
			for _, q := range []float64{0.5, 0.9, 0.99} {
				quantiles[q] = uint64(snap.Percentile(q))
			}
			ch <- prometheus.MustNewConstHistogram(metric.desc, uint64(snap.Count()),
				float64(snap.Sum()), quantiles, labels...)
		}
	}
}
