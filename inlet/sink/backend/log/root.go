// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package log is a sink backend logging decoded flows. It is mostly
// useful for debugging.
package log

import (
	"context"

	"github.com/rs/zerolog"

	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

// Configuration describes the configuration of the log backend.
type Configuration struct {
	// Level is the log level used for flows.
	Level string `validate:"oneof=debug info"`
}

// DefaultConfiguration returns the default configuration of the log backend.
func DefaultConfiguration() backend.Configuration {
	return &Configuration{
		Level: "info",
	}
}

// Backend logs flows through the reporter.
type Backend struct {
	r     *reporter.Reporter
	level zerolog.Level
}

// New creates a new log backend.
func (configuration *Configuration) New(r *reporter.Reporter, _ backend.Dependencies) (backend.Backend, error) {
	level, err := zerolog.ParseLevel(configuration.Level)
	if err != nil {
		return nil, err
	}
	return &Backend{r: r, level: level}, nil
}

// Start does nothing.
func (b *Backend) Start() error {
	return nil
}

// Stop does nothing.
func (b *Backend) Stop() error {
	return nil
}

// InsertFlows logs each flow of the batch.
func (b *Backend) InsertFlows(_ context.Context, batch *decoder.FlowBatch) error {
	exporter := batch.Exporter.String()
	for _, flow := range batch.Records {
		b.r.WithLevel(b.level).
			Str("exporter", exporter).
			Stringer("version", batch.Version).
			Stringer("src", flow.SrcAddr).
			Stringer("dst", flow.DstAddr).
			Uint16("sport", flow.SrcPort).
			Uint16("dport", flow.DstPort).
			Uint8("proto", flow.Proto).
			Uint32("in", flow.InIf).
			Uint32("out", flow.OutIf).
			Uint64("packets", flow.Packets).
			Uint64("octets", flow.Octets).
			Uint32("first", flow.First).
			Uint32("last", flow.Last).
			Msg("flow")
	}
	return nil
}
