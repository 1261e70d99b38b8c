// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"strconv"

	"cnetflow/common/byteorder"
)

// Version is a flow export protocol version.
type Version uint16

const (
	// VersionUnknown is any unsupported version.
	VersionUnknown Version = 0
	// VersionV5 is NetFlow v5.
	VersionV5 Version = 5
	// VersionV9 is NetFlow v9.
	VersionV9 Version = 9
	// VersionIPFIX is IPFIX.
	VersionIPFIX Version = 10
)

// DetectVersion returns the protocol version of the provided payload,
// looking only at the first two bytes.
func DetectVersion(payload []byte) Version {
	if len(payload) < 2 {
		return VersionUnknown
	}
	switch v := Version(byteorder.Uint16(payload[:2])); v {
	case VersionV5, VersionV9, VersionIPFIX:
		return v
	}
	return VersionUnknown
}

// String returns the label used for metrics and logs.
func (v Version) String() string {
	switch v {
	case VersionV5, VersionV9, VersionIPFIX:
		return strconv.Itoa(int(v))
	}
	return "unknown"
}
