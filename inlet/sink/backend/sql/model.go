// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sql

import (
	"net/netip"
	"time"

	"cnetflow/inlet/flow/decoder"
)

// Flow is the row stored for each flow.
type Flow struct {
	ID               uint64    `gorm:"primaryKey"`
	InsertedAt       time.Time `gorm:"autoCreateTime"`
	Exporter         string    `gorm:"size:45;index:idx_exporter_first"`
	SrcAddr          string    `gorm:"size:45"`
	DstAddr          string    `gorm:"size:45"`
	NextHop          string    `gorm:"size:45"`
	SrcPort          uint16
	DstPort          uint16
	Protocol         uint8
	Input            uint32
	Output           uint32
	Packets          uint64
	Octets           uint64
	First            time.Time `gorm:"index:idx_exporter_first"`
	Last             time.Time
	TCPFlags         uint8
	TOS              uint8
	SrcAS            uint32
	DstAS            uint32
	SrcMask          uint8
	DstMask          uint8
	IPVersion        uint8
	SamplingInterval uint16
}

// flowsFromBatch converts a batch into rows.
func flowsFromBatch(batch *decoder.FlowBatch) []Flow {
	exporter := batch.Exporter.String()
	flows := make([]Flow, 0, batch.Len())
	for _, r := range batch.Records {
		flows = append(flows, Flow{
			Exporter:         exporter,
			SrcAddr:          addrString(r.SrcAddr),
			DstAddr:          addrString(r.DstAddr),
			NextHop:          addrString(r.NextHop),
			SrcPort:          r.SrcPort,
			DstPort:          r.DstPort,
			Protocol:         r.Proto,
			Input:            r.InIf,
			Output:           r.OutIf,
			Packets:          r.Packets,
			Octets:           r.Octets,
			First:            time.Unix(int64(r.First), 0).UTC(),
			Last:             time.Unix(int64(r.Last), 0).UTC(),
			TCPFlags:         r.TCPFlags,
			TOS:              r.TOS,
			SrcAS:            r.SrcAS,
			DstAS:            r.DstAS,
			SrcMask:          r.SrcMask,
			DstMask:          r.DstMask,
			IPVersion:        r.IPVersion,
			SamplingInterval: batch.SamplingInterval,
		})
	}
	return flows
}

func addrString(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	return addr.String()
}
