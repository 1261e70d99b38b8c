// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package byteorder

import (
	"encoding/binary"
	"testing"

	"cnetflow/common/helpers"
)

func TestDetect(t *testing.T) {
	got := Detect()
	var expected Endian
	if binary.NativeEndian.Uint16([]byte{0x01, 0x02}) == 0x0102 {
		expected = BigEndian
	} else {
		expected = LittleEndian
	}
	if got != expected {
		t.Fatalf("Detect() == %s, expected %s", got, expected)
	}
	if Detect() != got {
		t.Fatal("Detect() changed between calls")
	}
}

func TestSwapRoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x0102, 0xff00, 0xffff} {
		if got := Swap(Swap(v)); got != v {
			t.Errorf("Swap(Swap(%#x)) == %#x", v, got)
		}
	}
	for _, v := range []uint32{0, 1, 0x01020304, 0xdeadbeef, 0xffffffff} {
		if got := Swap(Swap(v)); got != v {
			t.Errorf("Swap(Swap(%#x)) == %#x", v, got)
		}
	}
	for _, v := range []uint64{0, 1, 0x0102030405060708, 0xffffffffffffffff} {
		if got := Swap(Swap(v)); got != v {
			t.Errorf("Swap(Swap(%#x)) == %#x", v, got)
		}
	}
	for _, v := range []Uint128{{}, {Hi: 1}, {Lo: 1}, {Hi: 0x0102030405060708, Lo: 0x090a0b0c0d0e0f10}} {
		if got := Swap(Swap(v)); got != v {
			t.Errorf("Swap(Swap(%+v)) == %+v", v, got)
		}
	}
}

func TestSwap(t *testing.T) {
	if got := Swap(uint16(0x0102)); got != 0x0201 {
		t.Errorf("Swap(uint16) == %#x", got)
	}
	if got := Swap(uint32(0x01020304)); got != 0x04030201 {
		t.Errorf("Swap(uint32) == %#x", got)
	}
	got := Swap(Uint128{Hi: 0x0102030405060708, Lo: 0x090a0b0c0d0e0f10})
	expected := Uint128{Hi: 0x100f0e0d0c0b0a09, Lo: 0x0807060504030201}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Errorf("Swap(Uint128) (-got, +want):\n%s", diff)
	}
}

func TestReadWire(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	if got := Uint16(b); got != 0x0102 {
		t.Errorf("Uint16() == %#x", got)
	}
	if got := Uint32(b); got != 0x01020304 {
		t.Errorf("Uint32() == %#x", got)
	}
	if got := Uint48(b); got != 0x010203040506 {
		t.Errorf("Uint48() == %#x", got)
	}
	if got := Uint64(b); got != 0x0102030405060708 {
		t.Errorf("Uint64() == %#x", got)
	}
	got := Uint128From(b)
	expected := Uint128{Hi: 0x0102030405060708, Lo: 0x090a0b0c0d0e0f10}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Errorf("Uint128From() (-got, +want):\n%s", diff)
	}
}

func TestUint(t *testing.T) {
	cases := []struct {
		Pos      helpers.Pos
		Input    []byte
		Expected uint64
		OK       bool
	}{
		{helpers.Mark(), []byte{0x12}, 0x12, true},
		{helpers.Mark(), []byte{0x12, 0x34}, 0x1234, true},
		{helpers.Mark(), []byte{0x12, 0x34, 0x56}, 0x123456, true},
		{helpers.Mark(), []byte{0x12, 0x34, 0x56, 0x78}, 0x12345678, true},
		{helpers.Mark(), []byte{0, 0, 0x12, 0x34, 0x56, 0x78}, 0x12345678, true},
		{helpers.Mark(), []byte{0, 0, 0, 0, 0x12, 0x34, 0x56, 0x78}, 0x12345678, true},
		{helpers.Mark(), []byte{}, 0, false},
		{helpers.Mark(), make([]byte, 16), 0, false},
	}
	for _, tc := range cases {
		got, ok := Uint(tc.Input)
		if ok != tc.OK || got != tc.Expected {
			t.Errorf("%sUint(%v) == %#x, %v but expected %#x, %v", tc.Pos, tc.Input, got, ok, tc.Expected, tc.OK)
		}
	}
}
