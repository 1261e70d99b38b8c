// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package sink persists decoded flows through a configurable backend.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eapache/go-resiliency/breaker"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

// ErrUnavailable is returned when the backend is not accepting flows
// because of previous errors.
var ErrUnavailable = errors.New("sink unavailable")

// Sink is the interface to persist decoded flows.
type Sink interface {
	InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error
}

// Component represents the sink component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	config Configuration

	backend   backend.Backend
	breaker   *breaker.Breaker
	errLogger reporter.Logger
	failing   atomic.Bool

	metrics struct {
		batches      *reporter.CounterVec
		flows        reporter.Counter
		insertTime   reporter.Summary
		breakerOpens reporter.Counter
	}
}

// Dependencies define the dependencies of the sink component.
type Dependencies struct {
	Daemon daemon.Component
}

var _ Sink = &Component{}

// New creates a new sink component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	if configuration.Backend.Config == nil {
		return nil, errors.New("no sink backend configured")
	}
	b, err := configuration.Backend.Config.New(r, backend.Dependencies{
		Daemon: dependencies.Daemon,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create sink backend: %w", err)
	}
	c := Component{
		r:       r,
		d:       &dependencies,
		config:  configuration,
		backend: b,
		breaker: breaker.New(
			configuration.Breaker.ErrorThreshold,
			configuration.Breaker.SuccessThreshold,
			configuration.Breaker.Timeout),
		errLogger: r.Sample(reporter.BurstSampler(30*time.Second, 3)),
	}
	c.metrics.batches = r.CounterVec(
		reporter.CounterOpts{
			Name: "batches_total",
			Help: "Number of flow batches submitted to the backend.",
		},
		[]string{"result"},
	)
	c.metrics.flows = r.Counter(
		reporter.CounterOpts{
			Name: "flows_total",
			Help: "Number of flows persisted by the backend.",
		},
	)
	c.metrics.insertTime = r.Summary(
		reporter.SummaryOpts{
			Name:       "insert_time_seconds",
			Help:       "Time spent persisting a batch.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
	)
	c.metrics.breakerOpens = r.Counter(
		reporter.CounterOpts{
			Name: "breaker_rejects_total",
			Help: "Number of batches rejected while the breaker is open.",
		},
	)
	return &c, nil
}

// Start starts the sink component.
func (c *Component) Start() error {
	c.r.Info().Msg("starting sink component")
	if err := c.backend.Start(); err != nil {
		return fmt.Errorf("cannot start sink backend: %w", err)
	}
	c.r.RegisterHealthcheck("sink", c.healthcheck)
	return nil
}

// Stop stops the sink component.
func (c *Component) Stop() error {
	defer c.r.Info().Msg("sink component stopped")
	c.r.Info().Msg("stopping sink component")
	return c.backend.Stop()
}

// InsertFlows persists a batch of flows. It is safe for concurrent use.
func (c *Component) InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	err := c.breaker.Run(func() error {
		return c.backend.InsertFlows(ctx, batch)
	})
	switch {
	case errors.Is(err, breaker.ErrBreakerOpen):
		c.metrics.batches.WithLabelValues("rejected").Inc()
		c.metrics.breakerOpens.Inc()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case err != nil:
		c.failing.Store(true)
		c.metrics.batches.WithLabelValues("error").Inc()
		c.errLogger.Err(err).
			Str("exporter", batch.Exporter.String()).
			Int("flows", batch.Len()).
			Msg("cannot persist flows")
		return fmt.Errorf("cannot persist flows: %w", err)
	}
	c.failing.Store(false)
	c.metrics.insertTime.Observe(time.Since(start).Seconds())
	c.metrics.batches.WithLabelValues("ok").Inc()
	c.metrics.flows.Add(float64(batch.Len()))
	return nil
}

func (c *Component) healthcheck(_ context.Context) reporter.HealthcheckResult {
	if c.failing.Load() {
		return reporter.HealthcheckResult{
			Status: reporter.HealthcheckWarning,
			Reason: "last insert failed",
		}
	}
	return reporter.HealthcheckResult{
		Status: reporter.HealthcheckOK,
		Reason: "ready",
	}
}
