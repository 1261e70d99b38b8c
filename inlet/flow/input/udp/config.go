// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package udp

import "cnetflow/inlet/flow/input"

// Configuration describes UDP input configuration.
type Configuration struct {
	// Listen tells which port to listen to.
	Listen string `validate:"required,listen"`
	// Workers define the number of workers to use for receiving
	// packets. Each worker has its own socket.
	Workers int `validate:"required,min=1"`
	// ReceiveBuffer is the value of the requested buffer size for
	// each listening socket. When 0, the value is left to the
	// default value set by the kernel (net.core.rmem_default).
	// The value cannot exceed the kernel max value
	// (net.core.rmem_max).
	ReceiveBuffer uint
	// MaxPacketSize is the size of the receive buffer of a worker.
	// Larger datagrams are truncated.
	MaxPacketSize int `validate:"min=1500,max=65535"`
}

// DefaultConfiguration is the default configuration for this input
func DefaultConfiguration() input.Configuration {
	return &Configuration{
		Listen:        ":2055",
		Workers:       1,
		MaxPacketSize: 9000,
	}
}
