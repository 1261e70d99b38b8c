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

const ipfixHeaderLength = 16

// ipfixDecoder decodes IPFIX packets using the shared template cache.
type ipfixDecoder struct {
	nd         *Decoder
	normalizer *decoder.Normalizer
	batchSize  int
	templates  *templates.Cache
}

func (d *ipfixDecoder) Name() string {
	return "ipfix"
}

func (d *ipfixDecoder) Decode(in decoder.RawPacket) ([]*decoder.FlowBatch, error) {
	payload := in.Payload
	if len(payload) < ipfixHeaderLength {
		return nil, fmt.Errorf("IPFIX header truncated (%d bytes): %w", len(payload), decoder.ErrMalformed)
	}
	length := int(byteorder.Uint16(payload[2:4]))
	if length < ipfixHeaderLength || length > len(payload) {
		return nil, fmt.Errorf("IPFIX message length %d for %d bytes: %w", length, len(payload), decoder.ErrMalformed)
	}
	payload = payload[:length]
	exportTime := byteorder.Uint32(payload[4:8])
	now := in.TimeReceived.Unix()
	diff := now - int64(exportTime)
	tb := timeBase{
		now:  now,
		diff: diff,
		skew: diff,
	}
	key := in.Exporter.String()
	version := decoder.VersionIPFIX.String()
	ctx := context.Background()
	b := batcher{
		exporter:     in.Exporter,
		version:      decoder.VersionIPFIX,
		timeReceived: in.TimeReceived,
		capacity:     d.batchSize,
	}

	missing, swapped := 0, 0
	err := walkSets(payload, ipfixHeaderLength, func(id uint16, body []byte) (bool, error) {
		switch {
		case id == ipfixTemplateSet:
			n := 0
			for len(body) >= 4 {
				tpl, consumed, err := templates.ParseTemplate(templates.FamilyIPFIX, body)
				if err != nil {
					return false, err
				}
				body = body[consumed:]
				n++
				if len(tpl.Fields) == 0 {
					d.withdraw(ctx, in.Exporter, tpl.ID)
					continue
				}
				if tpl.ID < minDataSetID {
					return false, fmt.Errorf("invalid template ID %d: %w", tpl.ID, decoder.ErrMalformed)
				}
				d.nd.storeTemplate(d.templates, decoder.VersionIPFIX,
					templates.Key{Exporter: in.Exporter, TemplateID: tpl.ID}, tpl)
			}
			d.nd.setStats(key, decoder.VersionIPFIX, "TemplateFlowSet", n)
		case id == ipfixOptionsSet:
			d.nd.setStats(key, decoder.VersionIPFIX, "OptionsTemplateFlowSet", 0)
			d.nd.r.Debug().Str("exporter", key).Msg("skip options template set")
		case id < minDataSetID:
			d.nd.setStats(key, decoder.VersionIPFIX, "UnknownFlowSet", 0)
		default:
			tpl, ok := d.templates.Get(ctx, templates.Key{Exporter: in.Exporter, TemplateID: id})
			if !ok {
				missing++
				d.nd.metrics.templatesMissing.WithLabelValues(key, version).Inc()
				d.nd.setStats(key, decoder.VersionIPFIX, "MissingTemplateFlowSet", 0)
				return true, nil
			}
			n := 0
			for len(body) >= tpl.MinLength && tpl.MinLength > 0 && !isPadding(body) {
				record, consumed, ok := decodeRecord(tpl, body, tb)
				if !ok {
					return false, fmt.Errorf("record of template %d truncated: %w", id, decoder.ErrMalformed)
				}
				body = body[consumed:]
				n++
				if d.nd.config.DropZeroCounters && (record.Packets == 0 || record.Octets == 0) {
					continue
				}
				if d.normalizer.Normalize(&record) {
					swapped++
				}
				b.add(record)
			}
			d.nd.setStats(key, decoder.VersionIPFIX, "DataFlowSet", n)
		}
		return true, nil
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

// withdraw removes a template. Withdrawing the template set ID removes
// all the templates of the exporter.
func (d *ipfixDecoder) withdraw(ctx context.Context, exporter decoder.ExporterID, id uint16) {
	label := exporter.String()
	switch {
	case id == ipfixTemplateSet:
		n := d.templates.DeleteExporter(ctx, exporter)
		d.nd.metrics.templatesStats.WithLabelValues(label, decoder.VersionIPFIX.String(), "withdrawn").Add(float64(n))
	case id >= minDataSetID:
		if d.templates.Delete(ctx, templates.Key{Exporter: exporter, TemplateID: id}) {
			d.nd.metrics.templatesStats.WithLabelValues(label, decoder.VersionIPFIX.String(), "withdrawn").Inc()
		}
	}
}
