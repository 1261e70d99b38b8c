// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package netflow

import (
	"fmt"
	"net/netip"

	"cnetflow/common/byteorder"
	"cnetflow/inlet/flow/decoder"
)

const (
	v5HeaderLength = 24
	v5RecordLength = 48
	v5MaxRecords   = 30
)

// v5Decoder decodes NetFlow v5 packets. It is stateless.
type v5Decoder struct {
	nd         *Decoder
	normalizer *decoder.Normalizer
	batchSize  int
}

func (d *v5Decoder) Name() string {
	return "netflow-v5"
}

func (d *v5Decoder) Decode(in decoder.RawPacket) ([]*decoder.FlowBatch, error) {
	payload := in.Payload
	if len(payload) < v5HeaderLength {
		return nil, fmt.Errorf("NetFlow v5 header truncated (%d bytes): %w", len(payload), decoder.ErrMalformed)
	}
	if byteorder.Uint16(payload[0:2]) != uint16(decoder.VersionV5) {
		return nil, nil
	}
	count := int(byteorder.Uint16(payload[2:4]))
	if count > v5MaxRecords {
		return nil, fmt.Errorf("NetFlow v5 packet with %d records: %w", count, decoder.ErrMalformed)
	}
	if v5HeaderLength+count*v5RecordLength > len(payload) {
		return nil, fmt.Errorf("NetFlow v5 packet with %d records truncated (%d bytes): %w",
			count, len(payload), decoder.ErrMalformed)
	}
	sysUptime := byteorder.Uint32(payload[4:8])
	samplingInterval := byteorder.Uint16(payload[22:24]) & 0x3fff

	now := in.TimeReceived.Unix()
	timeOffset := now - int64(sysUptime/1000)
	key := in.Exporter.String()
	b := batcher{
		exporter:     in.Exporter,
		version:      decoder.VersionV5,
		timeReceived: in.TimeReceived,
		sampling:     samplingInterval,
		capacity:     d.batchSize,
	}
	swapped := 0
	for i := range count {
		r := payload[v5HeaderLength+i*v5RecordLength : v5HeaderLength+(i+1)*v5RecordLength]
		record := decoder.FlowRecord{
			SrcAddr:   netip.AddrFrom4([4]byte(r[0:4])),
			DstAddr:   netip.AddrFrom4([4]byte(r[4:8])),
			NextHop:   netip.AddrFrom4([4]byte(r[8:12])),
			InIf:      uint32(byteorder.Uint16(r[12:14])),
			OutIf:     uint32(byteorder.Uint16(r[14:16])),
			Packets:   uint64(byteorder.Uint32(r[16:20])),
			Octets:    uint64(byteorder.Uint32(r[20:24])),
			First:     uint32(int64(byteorder.Uint32(r[24:28])/1000) + timeOffset),
			Last:      uint32(int64(byteorder.Uint32(r[28:32])/1000) + timeOffset),
			SrcPort:   byteorder.Uint16(r[32:34]),
			DstPort:   byteorder.Uint16(r[34:36]),
			TCPFlags:  r[37],
			Proto:     r[38],
			TOS:       r[39],
			SrcAS:     uint32(byteorder.Uint16(r[40:42])),
			DstAS:     uint32(byteorder.Uint16(r[42:44])),
			SrcMask:   r[44],
			DstMask:   r[45],
			IPVersion: 4,
		}
		if d.normalizer.Normalize(&record) {
			swapped++
		}
		b.add(record)
	}
	d.nd.setStats(key, decoder.VersionV5, "PDU", count)
	if swapped > 0 {
		d.nd.metrics.normalized.WithLabelValues(key, decoder.VersionV5.String()).Add(float64(swapped))
	}
	return b.batches, nil
}
