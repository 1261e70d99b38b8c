// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package backend defines the interface of a persistence backend for
// decoded flows.
package backend

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/backend.go -package=mocks cnetflow/inlet/sink/backend Backend

import (
	"context"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
)

// Backend is the interface a persistence backend should implement.
type Backend interface {
	// Start connects to the backend.
	Start() error
	// Stop flushes pending data and disconnects from the backend.
	Stop() error
	// InsertFlows persists a batch of flows. It should be safe for
	// concurrent use and respect the context deadline.
	InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error
}

// Dependencies are the dependencies of a backend.
type Dependencies struct {
	Daemon daemon.Component
}

// Configuration is the interface for the configuration of a backend.
type Configuration interface {
	// New instantiates a new backend from its configuration.
	New(r *reporter.Reporter, dependencies Dependencies) (Backend, error)
}
