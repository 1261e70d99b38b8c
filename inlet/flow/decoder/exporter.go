// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"encoding/binary"
	"hash/fnv"
	"net/netip"
)

// ExporterID identifies an exporter. For IPv4 exporters, this is the
// address as a big-endian 32-bit value. IPv6 exporters are hashed
// with FNV-1a: two of them may share the same identifier.
type ExporterID uint32

// ExporterIDFromAddr computes the exporter identifier of the provided address.
func ExporterIDFromAddr(addr netip.Addr) ExporterID {
	addr = addr.Unmap()
	if addr.Is4() {
		a4 := addr.As4()
		return ExporterID(binary.BigEndian.Uint32(a4[:]))
	}
	a16 := addr.As16()
	h := fnv.New32a()
	h.Write(a16[:])
	return ExporterID(h.Sum32())
}

// Addr returns the exporter identifier as an IPv4 address.
func (e ExporterID) Addr() netip.Addr {
	var a4 [4]byte
	binary.BigEndian.PutUint32(a4[:], uint32(e))
	return netip.AddrFrom4(a4)
}

// String returns the dotted form of the exporter identifier.
func (e ExporterID) String() string {
	return e.Addr().String()
}
