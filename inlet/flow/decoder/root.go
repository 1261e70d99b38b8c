// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package decoder handles the protocol-independent part of flow
// decoding: the flow data model, decode outcomes, version detection
// and src/dst normalization.
package decoder

import (
	"time"
)

// Decoder is the interface each version-specific decoder implements.
type Decoder interface {
	// Decode takes a raw packet and returns the decoded batches. A nil
	// slice with a nil error means the packet carried no flow record.
	Decode(in RawPacket) ([]*FlowBatch, error)
	// Name returns the decoder name.
	Name() string
}

// RawPacket is an undecoded export packet. It is owned by the caller
// and must not be retained after Decode() returns.
type RawPacket struct {
	TimeReceived time.Time
	Payload      []byte
	Exporter     ExporterID
}
