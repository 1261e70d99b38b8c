// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package netflow

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/templates"
)

// Helpers to build export packets.

var testNow = time.Unix(1_700_000_000, 0)

const testExporter = decoder.ExporterID(0xc0000201) // 192.0.2.1

func u8(v uint8) []byte   { return []byte{v} }
func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func ip(s string) []byte {
	return netip.MustParseAddr(s).AsSlice()
}

func concat(parts ...[]byte) []byte {
	var result []byte
	for _, p := range parts {
		result = append(result, p...)
	}
	return result
}

type v5Record struct {
	SrcAddr, DstAddr, NextHop string
	Input, Output             uint16
	Packets, Octets           uint32
	First, Last               uint32
	SrcPort, DstPort          uint16
	TCPFlags, Proto, TOS      uint8
	SrcAS, DstAS              uint16
	SrcMask, DstMask          uint8
}

func (r v5Record) bytes() []byte {
	return concat(
		ip(r.SrcAddr), ip(r.DstAddr), ip(r.NextHop),
		u16(r.Input), u16(r.Output),
		u32(r.Packets), u32(r.Octets),
		u32(r.First), u32(r.Last),
		u16(r.SrcPort), u16(r.DstPort),
		u8(0), u8(r.TCPFlags), u8(r.Proto), u8(r.TOS),
		u16(r.SrcAS), u16(r.DstAS),
		u8(r.SrcMask), u8(r.DstMask),
		u16(0),
	)
}

func v5Packet(count uint16, sysUptime uint32, sampling uint16, records ...v5Record) []byte {
	b := concat(
		u16(5), u16(count), u32(sysUptime),
		u32(uint32(testNow.Unix())), u32(0), u32(1),
		u8(0), u8(0), u16(sampling),
	)
	for _, r := range records {
		b = append(b, r.bytes()...)
	}
	return b
}

func v9Packet(count uint16, sysUptime uint32, sets ...[]byte) []byte {
	return concat(
		u16(9), u16(count), u32(sysUptime),
		u32(uint32(testNow.Unix())), u32(1), u32(0),
		concat(sets...),
	)
}

func ipfixPacket(exportTime uint32, sets ...[]byte) []byte {
	body := concat(sets...)
	return concat(
		u16(10), u16(uint16(16+len(body))), u32(exportTime),
		u32(1), u32(0),
		body,
	)
}

// set builds a set with its header.
func set(id uint16, parts ...[]byte) []byte {
	body := concat(parts...)
	return concat(u16(id), u16(uint16(4+len(body))), body)
}

// template builds a template record.
func template(id uint16, fields ...templates.Field) []byte {
	tpl := templates.Template{ID: id, Fields: fields}
	return tpl.Bytes()
}

func field(typ, length uint16) templates.Field {
	return templates.Field{Type: typ, Length: length}
}

func newTestDecoder(t *testing.T, config Configuration) (*Decoder, *reporter.Reporter, *clock.Mock) {
	t.Helper()
	r := reporter.NewMock(t)
	c := clock.NewMock()
	c.Set(testNow)
	nd, err := New(r, config, Dependencies{Clock: c})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	return nd, r, c
}
