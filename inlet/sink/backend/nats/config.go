// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package nats

import (
	"time"

	"github.com/nats-io/nats.go"

	"cnetflow/common/helpers"
	"cnetflow/inlet/sink/backend"
)

// Configuration describes the configuration of the NATS backend.
type Configuration struct {
	// URL is the NATS server to connect to. Several servers can be
	// provided, separated by commas.
	URL string `validate:"required"`
	// Subject is the prefix of the subjects flows are published to.
	// The exporter address is appended to it.
	Subject string `validate:"required"`
	// Flush tells to wait for the server to acknowledge each batch.
	Flush bool
	// ConnectTimeout is the maximum time to establish the first
	// connection to the server.
	ConnectTimeout time.Duration `validate:"min=100ms"`
	// TLS defines TLS configuration to connect to the server.
	TLS helpers.TLSConfiguration
}

// DefaultConfiguration represents the default configuration for the NATS backend.
func DefaultConfiguration() backend.Configuration {
	return &Configuration{
		URL:            nats.DefaultURL,
		Subject:        "cnetflow.flows",
		Flush:          true,
		ConnectTimeout: 30 * time.Second,
	}
}
