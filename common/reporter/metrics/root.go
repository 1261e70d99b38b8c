// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package metrics handles Prometheus metrics for the collector. Each
// metric is prefixed by the package registering it.
package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cnetflow/common/reporter/logger"
	"cnetflow/common/reporter/stack"
)

// Metrics represents the internal state of the metric subsystem.
type Metrics struct {
	logger   logger.Logger
	config   Configuration
	registry *prometheus.Registry

	factoriesLock sync.RWMutex
	factories     map[string]*Factory
}

// New creates a new metric registry. It comes with the Go runtime and
// process collectors.
func New(logger logger.Logger, configuration Configuration) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(collectors.WithGoCollections(
			collectors.GoRuntimeMemStatsCollection|collectors.GoRuntimeMetricsCollection)),
	)
	return &Metrics{
		logger:    logger,
		config:    configuration,
		registry:  registry,
		factories: make(map[string]*Factory),
	}, nil
}

// HTTPHandler returns an handler to serve Prometheus metrics.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: promHTTPLogger{m.logger},
	})
}

// prefix returns the metric prefix for the provided function name.
func prefix(function string) string {
	pkg, _, _ := strings.Cut(function, ".")
	if !strings.HasPrefix(pkg, stack.ModuleName) {
		pkg = stack.ModuleName
	}
	return strings.NewReplacer("/", "_", ".", "_").Replace(pkg) + "_"
}

// caller returns the name of the function skip frames above the caller
// of caller.
func caller(skip int) string {
	// Callers() starts with caller() itself.
	return stack.Callers()[2+skip].FunctionName()
}

// Factory returns a factory to register new metrics. The package of
// the caller (after skipping skipCallstack frames) is used as a prefix.
// Factories are cached by calling function.
func (m *Metrics) Factory(skipCallstack int) *Factory {
	function := caller(skipCallstack)

	m.factoriesLock.RLock()
	factory, ok := m.factories[function]
	m.factoriesLock.RUnlock()
	if ok {
		return factory
	}

	m.factoriesLock.Lock()
	defer m.factoriesLock.Unlock()
	if factory, ok := m.factories[function]; ok {
		return factory
	}
	factory = &Factory{
		prefix:   prefix(function),
		registry: m.registry,
	}
	m.factories[function] = factory
	return factory
}

// CollectorForCurrentModule registers a custom collector whose metrics
// are prefixed with the package of the caller.
func (m *Metrics) CollectorForCurrentModule(skipCallStack int, c prometheus.Collector) {
	prometheus.WrapRegistererWithPrefix(prefix(caller(skipCallStack)), m.registry).MustRegister(c)
}

// UnregisterCollectorForCurrentModule unregisters a collector
// registered with CollectorForCurrentModule.
func (m *Metrics) UnregisterCollectorForCurrentModule(skipCallStack int, c prometheus.Collector) bool {
	return prometheus.WrapRegistererWithPrefix(prefix(caller(skipCallStack)), m.registry).Unregister(c)
}
