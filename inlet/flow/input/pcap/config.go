// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package pcap

import "cnetflow/inlet/flow/input"

// Configuration describes pcap input configuration.
type Configuration struct {
	// Paths are the capture files to replay, in order.
	Paths []string `validate:"min=1,dive,required"`
	// Ports restricts the UDP destination ports to extract. When
	// empty, all UDP datagrams are extracted.
	Ports []uint16 `validate:"dive,min=1"`
	// Loop replays the capture files forever.
	Loop bool
	// UseCaptureTime uses the capture timestamp as the reception
	// time instead of the current time.
	UseCaptureTime bool
}

// DefaultConfiguration descrives the default configuration for pcap input.
func DefaultConfiguration() input.Configuration {
	return &Configuration{
		Ports: []uint16{2055, 4739, 9995},
	}
}
