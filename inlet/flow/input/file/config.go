// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package file

import (
	"net/netip"

	"cnetflow/inlet/flow/input"
)

// Configuration describes file input configuration.
type Configuration struct {
	// Paths to use as input. Each file contains exactly one export
	// packet.
	Paths []string `validate:"min=1,dive,required"`
	// Exporter is the address the packets are attributed to.
	Exporter netip.Addr `validate:"required"`
	// MaxPackets is the number of packets to send before stopping.
	// When 0, files are replayed forever.
	MaxPackets uint
}

// DefaultConfiguration descrives the default configuration for file input.
func DefaultConfiguration() input.Configuration {
	return &Configuration{
		Exporter: netip.MustParseAddr("127.0.0.1"),
	}
}
