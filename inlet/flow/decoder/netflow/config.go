// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package netflow

import (
	"net/netip"

	"cnetflow/inlet/flow/decoder"
)

// Configuration describes the configuration for the NetFlow decoders.
type Configuration struct {
	// V5 is the configuration of the NetFlow v5 decoder.
	V5 VersionConfiguration
	// V9 is the configuration of the NetFlow v9 decoder.
	V9 VersionConfiguration
	// IPFIX is the configuration of the IPFIX decoder.
	IPFIX VersionConfiguration
	// PrivateNetworks are the networks considered as private by the
	// "private" normalization policy.
	PrivateNetworks []netip.Prefix `validate:"dive,required"`
	// DropZeroCounters drops template-based records without packets
	// or without octets.
	DropZeroCounters bool
}

// VersionConfiguration is the configuration of one version-specific decoder.
type VersionConfiguration struct {
	// Normalization selects how source and destination are oriented.
	Normalization decoder.NormalizationPolicy
	// BatchSize is the maximum number of records in a batch.
	BatchSize int `validate:"min=1,max=65535"`
}

// DefaultConfiguration represents the default configuration for the NetFlow decoders.
func DefaultConfiguration() Configuration {
	return Configuration{
		V5: VersionConfiguration{
			Normalization: decoder.NormalizePort,
			BatchSize:     v5MaxRecords,
		},
		V9: VersionConfiguration{
			Normalization: decoder.NormalizePrivate,
			BatchSize:     60,
		},
		IPFIX: VersionConfiguration{
			Normalization: decoder.NormalizePrivate,
			BatchSize:     60,
		},
		PrivateNetworks: decoder.DefaultPrivateNetworks(),
	}
}
