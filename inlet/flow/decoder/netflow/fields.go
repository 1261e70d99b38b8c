// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package netflow

import (
	"net/netip"

	"github.com/netsampler/goflow2/v2/decoders/netflow"

	"cnetflow/common/byteorder"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/templates"
)

// recordState accumulates the fields of one data record before the
// timestamps can be computed.
type recordState struct {
	rec decoder.FlowRecord

	hasOctets, hasPackets bool
	outOctets, outPackets uint64
	bgpNextHop            netip.Addr

	hasStartUptime, hasEndUptime bool
	startUptime, endUptime       uint64
	hasStartAbs, hasEndAbs       bool
	startAbs, endAbs             uint64 // seconds
	hasSystemInit                bool
	systemInit                   uint64 // milliseconds
}

// timeBase tells how to turn device timestamps into absolute ones.
type timeBase struct {
	now int64
	// diff is added to device-relative times (in seconds)
	diff int64
	// skew is added to absolute device times (in seconds)
	skew int64
}

// applyField maps one field value onto the record. Unknown fields and
// enterprise fields are ignored.
func (s *recordState) applyField(f templates.Field, value []byte) {
	if f.Enterprise {
		return
	}
	switch f.Type {
	case netflow.IPFIX_FIELD_sourceIPv4Address, netflow.IPFIX_FIELD_sourceIPv6Address:
		if addr, ok := addrFromSlice(value); ok {
			s.rec.SrcAddr = addr
		}
		return
	case netflow.IPFIX_FIELD_destinationIPv4Address, netflow.IPFIX_FIELD_destinationIPv6Address:
		if addr, ok := addrFromSlice(value); ok {
			s.rec.DstAddr = addr
		}
		return
	case netflow.IPFIX_FIELD_ipNextHopIPv4Address, netflow.IPFIX_FIELD_ipNextHopIPv6Address:
		if addr, ok := addrFromSlice(value); ok {
			s.rec.NextHop = addr
		}
		return
	case netflow.IPFIX_FIELD_bgpNextHopIPv4Address, netflow.IPFIX_FIELD_bgpNextHopIPv6Address:
		if addr, ok := addrFromSlice(value); ok {
			s.bgpNextHop = addr
		}
		return
	}

	v, ok := byteorder.Uint(value)
	if !ok {
		return
	}
	switch f.Type {
	case netflow.IPFIX_FIELD_octetDeltaCount:
		s.rec.Octets = v
		s.hasOctets = true
	case netflow.IPFIX_FIELD_postOctetDeltaCount:
		s.outOctets = v
	case netflow.IPFIX_FIELD_packetDeltaCount:
		s.rec.Packets = v
		s.hasPackets = true
	case netflow.IPFIX_FIELD_postPacketDeltaCount:
		s.outPackets = v
	case netflow.IPFIX_FIELD_protocolIdentifier:
		s.rec.Proto = uint8(v)
	case netflow.IPFIX_FIELD_ipClassOfService:
		s.rec.TOS = uint8(v)
	case netflow.IPFIX_FIELD_tcpControlBits:
		s.rec.TCPFlags = uint8(v)
	case netflow.IPFIX_FIELD_sourceTransportPort,
		netflow.IPFIX_FIELD_udpSourcePort,
		netflow.IPFIX_FIELD_tcpSourcePort:
		s.rec.SrcPort = uint16(v)
	case netflow.IPFIX_FIELD_destinationTransportPort,
		netflow.IPFIX_FIELD_udpDestinationPort,
		netflow.IPFIX_FIELD_tcpDestinationPort:
		s.rec.DstPort = uint16(v)
	case netflow.IPFIX_FIELD_sourceIPv4PrefixLength, netflow.IPFIX_FIELD_sourceIPv6PrefixLength:
		s.rec.SrcMask = uint8(v)
	case netflow.IPFIX_FIELD_destinationIPv4PrefixLength, netflow.IPFIX_FIELD_destinationIPv6PrefixLength:
		s.rec.DstMask = uint8(v)
	case netflow.IPFIX_FIELD_ingressInterface:
		s.rec.InIf = uint32(v)
	case netflow.IPFIX_FIELD_egressInterface:
		s.rec.OutIf = uint32(v)
	case netflow.IPFIX_FIELD_bgpSourceAsNumber:
		s.rec.SrcAS = uint32(v)
	case netflow.IPFIX_FIELD_bgpDestinationAsNumber:
		s.rec.DstAS = uint32(v)
	case netflow.IPFIX_FIELD_ipVersion:
		s.rec.IPVersion = uint8(v)
	case netflow.IPFIX_FIELD_flowStartSysUpTime:
		s.startUptime = v
		s.hasStartUptime = true
	case netflow.IPFIX_FIELD_flowEndSysUpTime:
		s.endUptime = v
		s.hasEndUptime = true
	case netflow.IPFIX_FIELD_flowStartSeconds:
		s.startAbs = v
		s.hasStartAbs = true
	case netflow.IPFIX_FIELD_flowEndSeconds:
		s.endAbs = v
		s.hasEndAbs = true
	case netflow.IPFIX_FIELD_flowStartMilliseconds:
		s.startAbs = v / 1000
		s.hasStartAbs = true
	case netflow.IPFIX_FIELD_flowEndMilliseconds:
		s.endAbs = v / 1000
		s.hasEndAbs = true
	case netflow.IPFIX_FIELD_systemInitTimeMilliseconds:
		s.systemInit = v
		s.hasSystemInit = true
	}
}

// finish completes the record: counters fallbacks, next hop, IP
// version and absolute timestamps.
func (s *recordState) finish(tb timeBase) decoder.FlowRecord {
	if !s.hasOctets {
		s.rec.Octets = s.outOctets
	}
	if !s.hasPackets {
		s.rec.Packets = s.outPackets
	}
	if !s.rec.NextHop.IsValid() && s.bgpNextHop.IsValid() {
		s.rec.NextHop = s.bgpNextHop
	}
	if s.rec.IPVersion == 0 {
		switch {
		case s.rec.SrcAddr.Is4() || s.rec.DstAddr.Is4():
			s.rec.IPVersion = 4
		case s.rec.SrcAddr.Is6() || s.rec.DstAddr.Is6():
			s.rec.IPVersion = 6
		}
	}
	s.rec.First = s.timestamp(tb, s.hasStartAbs, s.startAbs, s.hasStartUptime, s.startUptime)
	s.rec.Last = s.timestamp(tb, s.hasEndAbs, s.endAbs, s.hasEndUptime, s.endUptime)
	return s.rec
}

func (s *recordState) timestamp(tb timeBase, hasAbs bool, abs uint64, hasUptime bool, uptime uint64) uint32 {
	switch {
	case hasAbs:
		return uint32(int64(abs) + tb.skew)
	case hasUptime && s.hasSystemInit:
		return uint32(int64((s.systemInit+uptime)/1000) + tb.skew)
	case hasUptime:
		return uint32(int64(uptime/1000) + tb.diff)
	}
	return uint32(tb.now)
}

func addrFromSlice(b []byte) (netip.Addr, bool) {
	switch len(b) {
	case 4:
		return netip.AddrFrom4([4]byte(b)), true
	case 16:
		return netip.AddrFrom16([16]byte(b)).Unmap(), true
	}
	return netip.Addr{}, false
}

// readValue returns the value of the field at the start of data and
// the number of bytes consumed. Variable-length fields are prefixed by
// their length: one byte, or 0xff followed by two bytes.
func readValue(f templates.Field, data []byte) ([]byte, int, bool) {
	if f.Length != templates.VariableLength {
		l := int(f.Length)
		if l > len(data) {
			return nil, 0, false
		}
		return data[:l], l, true
	}
	if len(data) < 1 {
		return nil, 0, false
	}
	l, offset := int(data[0]), 1
	if l == 0xff {
		if len(data) < 3 {
			return nil, 0, false
		}
		l, offset = int(byteorder.Uint16(data[1:3])), 3
	}
	if offset+l > len(data) {
		return nil, 0, false
	}
	return data[offset : offset+l], offset + l, true
}

// isPadding tells if the end of a set is padding: less than 4 bytes,
// all zero.
func isPadding(b []byte) bool {
	if len(b) >= 4 {
		return false
	}
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// decodeRecord decodes one data record at the start of data. It
// returns the record and the number of bytes consumed. It returns
// false if the record is truncated.
func decodeRecord(tpl *templates.Template, data []byte, tb timeBase) (decoder.FlowRecord, int, bool) {
	var s recordState
	offset := 0
	for _, f := range tpl.Fields {
		value, n, ok := readValue(f, data[offset:])
		if !ok {
			return decoder.FlowRecord{}, 0, false
		}
		s.applyField(f, value)
		offset += n
	}
	return s.finish(tb), offset, true
}
