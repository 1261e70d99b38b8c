// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package netflow

import (
	"context"
	"fmt"

	"cnetflow/common/byteorder"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/templates"
)

const (
	v9HeaderLength   = 20
	setHeaderLength  = 4
	v9TemplateSetID  = 0
	minDataSetID     = 256
	ipfixTemplateSet = 2
	ipfixOptionsSet  = 3
)

// v9Decoder decodes NetFlow v9 packets using the shared template cache.
type v9Decoder struct {
	nd         *Decoder
	normalizer *decoder.Normalizer
	batchSize  int
	templates  *templates.Cache
}

func (d *v9Decoder) Name() string {
	return "netflow-v9"
}

// walkSets iterates over the sets of a payload. It stops when fn
// returns false. Sets overflowing the payload are malformed.
func walkSets(payload []byte, offset int, fn func(id uint16, body []byte) (bool, error)) error {
	for offset < len(payload) {
		if offset+setHeaderLength > len(payload) {
			return fmt.Errorf("set header truncated at offset %d: %w", offset, decoder.ErrMalformed)
		}
		id := byteorder.Uint16(payload[offset : offset+2])
		length := int(byteorder.Uint16(payload[offset+2 : offset+4]))
		end := offset + length
		if length < setHeaderLength || end <= offset {
			return fmt.Errorf("set %d with invalid length %d: %w", id, length, decoder.ErrMalformed)
		}
		if end > len(payload) {
			return fmt.Errorf("set %d with length %d overflows packet: %w", id, length, decoder.ErrMalformed)
		}
		more, err := fn(id, payload[offset+setHeaderLength:end])
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		offset = end
	}
	return nil
}

func (d *v9Decoder) Decode(in decoder.RawPacket) ([]*decoder.FlowBatch, error) {
	payload := in.Payload
	if len(payload) < v9HeaderLength {
		return nil, fmt.Errorf("NetFlow v9 header truncated (%d bytes): %w", len(payload), decoder.ErrMalformed)
	}
	count := int(byteorder.Uint16(payload[2:4]))
	sysUptime := byteorder.Uint32(payload[4:8])
	now := in.TimeReceived.Unix()
	tb := timeBase{
		now:  now,
		diff: now - int64(sysUptime/1000),
	}
	key := in.Exporter.String()
	version := decoder.VersionV9.String()
	b := batcher{
		exporter:     in.Exporter,
		version:      decoder.VersionV9,
		timeReceived: in.TimeReceived,
		capacity:     d.batchSize,
	}

	processed, missing, swapped := 0, 0, 0
	done := func() bool {
		return count > 0 && processed >= count
	}
	err := walkSets(payload, v9HeaderLength, func(id uint16, body []byte) (bool, error) {
		switch {
		case id == v9TemplateSetID:
			n := 0
			for len(body) >= 4 {
				tpl, consumed, err := templates.ParseTemplate(templates.FamilyV9, body)
				if err != nil {
					return false, err
				}
				if tpl.ID < minDataSetID || len(tpl.Fields) == 0 {
					return false, fmt.Errorf("invalid template %d with %d fields: %w",
						tpl.ID, len(tpl.Fields), decoder.ErrMalformed)
				}
				d.nd.storeTemplate(d.templates, decoder.VersionV9,
					templates.Key{Exporter: in.Exporter, TemplateID: tpl.ID}, tpl)
				body = body[consumed:]
				n++
				processed++
			}
			d.nd.setStats(key, decoder.VersionV9, "TemplateFlowSet", n)
		case id < minDataSetID:
			d.nd.setStats(key, decoder.VersionV9, "OptionsTemplateFlowSet", 0)
			d.nd.r.Debug().Str("exporter", key).Uint16("set", id).Msg("skip options template set")
			processed++
		default:
			tpl, ok := d.templates.Get(context.Background(), templates.Key{Exporter: in.Exporter, TemplateID: id})
			if !ok {
				missing++
				d.nd.metrics.templatesMissing.WithLabelValues(key, version).Inc()
				d.nd.setStats(key, decoder.VersionV9, "MissingTemplateFlowSet", 0)
				return !done(), nil
			}
			n := 0
			for len(body) >= tpl.MinLength && tpl.MinLength > 0 && !isPadding(body) && !done() {
				record, consumed, ok := decodeRecord(tpl, body, tb)
				if !ok {
					return false, fmt.Errorf("record of template %d truncated: %w", id, decoder.ErrMalformed)
				}
				body = body[consumed:]
				n++
				processed++
				if d.nd.config.DropZeroCounters && (record.Packets == 0 || record.Octets == 0) {
					continue
				}
				if d.normalizer.Normalize(&record) {
					swapped++
				}
				b.add(record)
			}
			d.nd.setStats(key, decoder.VersionV9, "DataFlowSet", n)
		}
		return !done(), nil
	})
	if err != nil {
		return nil, err
	}
	if swapped > 0 {
		d.nd.metrics.normalized.WithLabelValues(key, version).Add(float64(swapped))
	}
	if len(b.batches) == 0 && missing > 0 {
		return nil, fmt.Errorf("%d data sets without template: %w", missing, decoder.ErrTemplateMissing)
	}
	return b.batches, nil
}
