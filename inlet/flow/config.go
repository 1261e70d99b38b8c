// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package flow

import (
	"golang.org/x/time/rate"

	"cnetflow/common/helpers"
	"cnetflow/inlet/flow/decoder/netflow"
	"cnetflow/inlet/flow/input"
	"cnetflow/inlet/flow/input/file"
	"cnetflow/inlet/flow/input/pcap"
	"cnetflow/inlet/flow/input/udp"
	"cnetflow/inlet/flow/templates"
)

// Configuration describes the configuration for the flow component
type Configuration struct {
	// Inputs define a list of input modules to enable
	Inputs []InputConfiguration `validate:"dive"`
	// RateLimit defines a rate limit on the number of packets per
	// second. The limit is per-exporter.
	RateLimit rate.Limit `validate:"isdefault|min=100"`
	// Workers is the number of decoding workers.
	Workers int `validate:"min=1"`
	// QueueSize is the number of packets waiting to be decoded. When
	// the queue is full, incoming packets are dropped.
	QueueSize int `validate:"min=1"`
	// ScratchArenaSize is the size of the memory region holding
	// packets waiting to be decoded.
	ScratchArenaSize int `validate:"min=65536"`
	// Decoder is the configuration of the NetFlow/IPFIX decoder.
	Decoder netflow.Configuration
	// Templates is the configuration of the template caches.
	Templates templates.Configuration
}

// DefaultConfiguration represents the default configuration for the flow component
func DefaultConfiguration() Configuration {
	return Configuration{
		Inputs: []InputConfiguration{{
			Config: udp.DefaultConfiguration(),
		}},
		Workers:          4,
		QueueSize:        10000,
		ScratchArenaSize: 64 << 20,
		Decoder:          netflow.DefaultConfiguration(),
		Templates:        templates.DefaultConfiguration(),
	}
}

// InputConfiguration represents the configuration for an input.
type InputConfiguration struct {
	// Config is the actual configuration of the input.
	Config input.Configuration
}

// MarshalYAML undoes ConfigurationUnmarshallerHook().
func (ic InputConfiguration) MarshalYAML() (interface{}, error) {
	return helpers.ParametrizedConfigurationMarshalYAML(ic, inputs)
}

var inputs = map[string](func() input.Configuration){
	"udp":  udp.DefaultConfiguration,
	"file": file.DefaultConfiguration,
	"pcap": pcap.DefaultConfiguration,
}

func init() {
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.ParametrizedConfigurationUnmarshallerHook(InputConfiguration{}, inputs))
}
