// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package nats is a sink backend publishing each flow batch as a JSON
// message to NATS.
package nats

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

// Backend represents the NATS backend.
type Backend struct {
	r         *reporter.Reporter
	config    *Configuration
	tlsConfig *tls.Config

	conn    publisher
	connect func() (publisher, error)
	metrics struct {
		messagesSent *reporter.CounterVec
		bytesSent    *reporter.CounterVec
		events       *reporter.CounterVec
	}
}

// publisher is the subset of *nats.Conn used by the backend.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// New creates a new NATS backend.
func (configuration *Configuration) New(r *reporter.Reporter, _ backend.Dependencies) (backend.Backend, error) {
	tlsConfig, err := configuration.TLS.MakeTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot setup TLS for NATS: %w", err)
	}
	b := Backend{
		r:         r,
		config:    configuration,
		tlsConfig: tlsConfig,
	}
	b.connect = b.dial
	b.metrics.messagesSent = r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_messages_total",
			Help: "Messages published to NATS.",
		},
		[]string{"exporter"})
	b.metrics.bytesSent = r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_bytes_total",
			Help: "Bytes published to NATS.",
		},
		[]string{"exporter"})
	b.metrics.events = r.CounterVec(
		reporter.CounterOpts{
			Name: "connection_events_total",
			Help: "Connection events with the NATS server.",
		},
		[]string{"event"})
	return &b, nil
}

func (b *Backend) dial() (publisher, error) {
	options := []nats.Option{
		nats.Name(fmt.Sprintf("cnetflow-%s", helpers.CnetflowVersion)),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.metrics.events.WithLabelValues("disconnect").Inc()
			b.r.Warn().Err(err).Msg("disconnected from NATS server")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.metrics.events.WithLabelValues("reconnect").Inc()
			b.r.Info().Str("server", nc.ConnectedUrl()).Msg("reconnected to NATS server")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.metrics.events.WithLabelValues("error").Inc()
			b.r.Err(err).Msg("NATS error")
		}),
	}
	if b.tlsConfig != nil {
		options = append(options, nats.Secure(b.tlsConfig))
	}
	nc, err := nats.Connect(b.config.URL, options...)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// Start connects to the NATS server.
func (b *Backend) Start() error {
	b.r.Info().Str("url", b.config.URL).Msg("starting NATS backend")
	customBackoff := backoff.NewExponentialBackOff()
	customBackoff.InitialInterval = 100 * time.Millisecond
	customBackoff.MaxInterval = 5 * time.Second
	customBackoff.MaxElapsedTime = b.config.ConnectTimeout
	conn, err := backoff.RetryWithData(func() (publisher, error) {
		conn, err := b.connect()
		if err != nil {
			b.r.Warn().Err(err).Msg("cannot connect to NATS server, retrying")
		}
		return conn, err
	}, customBackoff)
	if err != nil {
		return fmt.Errorf("unable to connect to NATS: %w", err)
	}
	b.conn = conn
	return nil
}

// Stop drains the connection to the NATS server.
func (b *Backend) Stop() error {
	defer b.r.Info().Msg("NATS backend stopped")
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}

// subject returns the subject for the provided exporter.
func (b *Backend) subject(exporter string) string {
	return fmt.Sprintf("%s.%s", b.config.Subject, exporter)
}

// InsertFlows publishes the batch as a single JSON message.
func (b *Backend) InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("cannot encode batch: %w", err)
	}
	exporter := batch.Exporter.String()
	if err := b.conn.Publish(b.subject(exporter), payload); err != nil {
		return fmt.Errorf("cannot publish batch: %w", err)
	}
	if b.config.Flush {
		if err := b.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("cannot flush batch: %w", err)
		}
	}
	b.metrics.messagesSent.WithLabelValues(exporter).Inc()
	b.metrics.bytesSent.WithLabelValues(exporter).Add(float64(len(payload)))
	return nil
}
