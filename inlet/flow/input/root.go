// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package input defines the interface of an input module for the flow
// component.
package input

import (
	"net/netip"
	"time"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
)

// Input is the interface any input should meet
type Input interface {
	// Start instructs an input to start producing export packets.
	Start() error
	// Stop instructs the input to stop producing export packets.
	Stop() error
}

// SendFunc is a function to send a received export packet. The payload
// is only valid during the call.
type SendFunc func(exporter netip.Addr, payload []byte, received time.Time)

// Configuration the interface for the configuration for an input module.
type Configuration interface {
	// New instantiantes a new input from its configuration.
	New(r *reporter.Reporter, daemon daemon.Component, send SendFunc) (Input, error)
}
