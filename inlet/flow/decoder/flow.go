// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"fmt"
	"net/netip"
	"time"
)

// FlowRecord is a decoded flow. Timestamps are absolute, in seconds
// since the epoch.
type FlowRecord struct {
	SrcAddr   netip.Addr `json:"src_addr"`
	DstAddr   netip.Addr `json:"dst_addr"`
	NextHop   netip.Addr `json:"next_hop"`
	SrcPort   uint16     `json:"src_port"`
	DstPort   uint16     `json:"dst_port"`
	Proto     uint8      `json:"proto"`
	TOS       uint8      `json:"tos"`
	TCPFlags  uint8      `json:"tcp_flags"`
	InIf      uint32     `json:"in_if"`
	OutIf     uint32     `json:"out_if"`
	Packets   uint64     `json:"packets"`
	Octets    uint64     `json:"octets"`
	First     uint32     `json:"first"`
	Last      uint32     `json:"last"`
	SrcAS     uint32     `json:"src_as"`
	DstAS     uint32     `json:"dst_as"`
	SrcMask   uint8      `json:"src_mask"`
	DstMask   uint8      `json:"dst_mask"`
	IPVersion uint8      `json:"ip_version"`
}

// FlowBatch is a bounded list of flow records from one exporter.
type FlowBatch struct {
	Exporter         ExporterID   `json:"exporter"`
	Version          Version      `json:"version"`
	TimeReceived     time.Time    `json:"time_received"`
	SamplingInterval uint16       `json:"sampling_interval,omitempty"`
	Records          []FlowRecord `json:"records"`
	capacity         int
}

// NewFlowBatch creates an empty batch able to hold capacity records.
func NewFlowBatch(exporter ExporterID, version Version, capacity int) *FlowBatch {
	return &FlowBatch{
		Exporter: exporter,
		Version:  version,
		Records:  make([]FlowRecord, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a record to the batch. It fails once the batch is full.
func (b *FlowBatch) Append(record FlowRecord) error {
	if len(b.Records) >= b.capacity {
		return fmt.Errorf("batch of %d records: %w", b.capacity, ErrResourceExhausted)
	}
	b.Records = append(b.Records, record)
	return nil
}

// Full tells if the batch cannot accept more records.
func (b *FlowBatch) Full() bool {
	return len(b.Records) >= b.capacity
}

// Len returns the number of records.
func (b *FlowBatch) Len() int {
	return len(b.Records)
}

// Capacity returns the maximum number of records.
func (b *FlowBatch) Capacity() int {
	return b.capacity
}

// OutcomeKind classifies the result of decoding one packet.
type OutcomeKind int

const (
	// OutcomeFlows means at least one record was decoded.
	OutcomeFlows OutcomeKind = iota
	// OutcomeSkipped means the packet was valid but yielded no record.
	OutcomeSkipped
	// OutcomeMalformed means the packet was rejected.
	OutcomeMalformed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFlows:
		return "flows"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeMalformed:
		return "malformed"
	}
	return "unknown"
}

// Outcome is the result of decoding one packet.
type Outcome struct {
	Kind    OutcomeKind
	Batches []*FlowBatch
	Reason  error
}

// Records returns the total number of records in the outcome.
func (o Outcome) Records() int {
	count := 0
	for _, b := range o.Batches {
		count += b.Len()
	}
	return count
}
