// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package byteorder converts values from network byte order to host
// byte order. The host order is probed once at runtime.
package byteorder

import (
	"encoding/binary"
	"math/bits"
	"sync"
	"unsafe"
)

// Endian is a byte order.
type Endian int

const (
	// LittleEndian hosts store the least significant byte first.
	LittleEndian Endian = iota
	// BigEndian hosts store the most significant byte first (network order).
	BigEndian
)

// String returns a textual representation of the byte order.
func (e Endian) String() string {
	switch e {
	case LittleEndian:
		return "little-endian"
	case BigEndian:
		return "big-endian"
	default:
		return "unknown"
	}
}

var (
	detectOnce sync.Once
	detected   Endian
)

// Detect returns the byte order of the host. The result is computed on
// first use and never changes afterwards.
func Detect() Endian {
	detectOnce.Do(func() {
		probe := uint64(0x0102030405060708)
		window := *(*[2]byte)(unsafe.Pointer(&probe))
		if window[0] == 0x01 && window[1] == 0x02 {
			detected = BigEndian
		} else {
			detected = LittleEndian
		}
	})
	return detected
}

// Uint128 is a 128-bit unsigned value.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Word is the set of widths the engine knows how to swap. Any other
// width does not compile.
type Word interface {
	uint16 | uint32 | uint64 | Uint128
}

// Swap reverses the bytes of the provided value.
func Swap[T Word](v T) T {
	switch x := any(v).(type) {
	case uint16:
		return any(bits.ReverseBytes16(x)).(T)
	case uint32:
		return any(bits.ReverseBytes32(x)).(T)
	case uint64:
		return any(bits.ReverseBytes64(x)).(T)
	case Uint128:
		return any(Uint128{
			Hi: bits.ReverseBytes64(x.Lo),
			Lo: bits.ReverseBytes64(x.Hi),
		}).(T)
	}
	return v
}

// FromWire converts a value loaded from the wire as-is into host order.
// This is a no-op on big-endian hosts.
func FromWire[T Word](v T) T {
	if Detect() == BigEndian {
		return v
	}
	return Swap(v)
}

// ToWire converts a value in host order to network order.
func ToWire[T Word](v T) T {
	return FromWire(v)
}

func native() binary.ByteOrder {
	if Detect() == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Uint16 reads a 2-byte network-order value. The slice must be at least
// 2-byte long.
func Uint16(b []byte) uint16 {
	return FromWire(native().Uint16(b))
}

// Uint32 reads a 4-byte network-order value.
func Uint32(b []byte) uint32 {
	return FromWire(native().Uint32(b))
}

// Uint64 reads a 8-byte network-order value.
func Uint64(b []byte) uint64 {
	return FromWire(native().Uint64(b))
}

// Uint128From reads a 16-byte network-order value.
func Uint128From(b []byte) Uint128 {
	var raw Uint128
	if Detect() == BigEndian {
		raw = Uint128{Hi: binary.BigEndian.Uint64(b[0:8]), Lo: binary.BigEndian.Uint64(b[8:16])}
	} else {
		raw = Uint128{Hi: binary.LittleEndian.Uint64(b[8:16]), Lo: binary.LittleEndian.Uint64(b[0:8])}
	}
	return FromWire(raw)
}

// Uint48 reads a 6-byte network-order value as the low 48 bits of a
// 64-bit value.
func Uint48(b []byte) uint64 {
	return uint64(Uint16(b[0:2]))<<32 | uint64(Uint32(b[2:6]))
}

// Uint decodes an unsigned value of 1 to 8 bytes. It returns false for
// other widths.
func Uint(b []byte) (uint64, bool) {
	switch len(b) {
	case 1:
		return uint64(b[0]), true
	case 2:
		return uint64(Uint16(b)), true
	case 4:
		return uint64(Uint32(b)), true
	case 6:
		return Uint48(b), true
	case 8:
		return Uint64(b), true
	case 3, 5, 7:
		// Reduced-size encoding
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v, true
	}
	return 0, false
}
