// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package netflow handles NetFlow v5, NetFlow v9 and IPFIX decoding.
package netflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"cnetflow/common/byteorder"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/templates"
)

// Decoder classifies export packets and dispatches them to the
// version-specific decoders.
type Decoder struct {
	r         *reporter.Reporter
	d         Dependencies
	config    Configuration
	errLogger reporter.Logger

	decoders map[decoder.Version]decoder.Decoder

	metrics struct {
		packets            *reporter.CounterVec
		errors             *reporter.CounterVec
		stats              *reporter.CounterVec
		setStatsSum        *reporter.CounterVec
		setRecordsStatsSum *reporter.CounterVec
		templatesStats     *reporter.CounterVec
		templatesMissing   *reporter.CounterVec
		normalized         *reporter.CounterVec
	}
}

// Dependencies are the dependencies of the NetFlow decoder.
type Dependencies struct {
	Clock          clock.Clock
	V9Templates    *templates.Cache
	IPFIXTemplates *templates.Cache
}

// New instantiates a new NetFlow decoder. Missing template caches are
// created with the default configuration.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Decoder, error) {
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	var err error
	if dependencies.V9Templates == nil {
		dependencies.V9Templates, err = templates.NewCache(r, templates.FamilyV9,
			templates.DefaultConfiguration(), templates.Dependencies{Clock: dependencies.Clock})
		if err != nil {
			return nil, fmt.Errorf("cannot create NetFlow v9 template cache: %w", err)
		}
	}
	if dependencies.IPFIXTemplates == nil {
		dependencies.IPFIXTemplates, err = templates.NewCache(r, templates.FamilyIPFIX,
			templates.DefaultConfiguration(), templates.Dependencies{Clock: dependencies.Clock})
		if err != nil {
			return nil, fmt.Errorf("cannot create IPFIX template cache: %w", err)
		}
	}

	nd := &Decoder{
		r:         r,
		d:         dependencies,
		config:    configuration,
		errLogger: r.Sample(reporter.BurstSampler(30*time.Second, 3)),
	}
	normalizer := func(vc VersionConfiguration) (*decoder.Normalizer, error) {
		return decoder.NewNormalizer(vc.Normalization, configuration.PrivateNetworks)
	}
	v5n, err := normalizer(configuration.V5)
	if err != nil {
		return nil, err
	}
	v9n, err := normalizer(configuration.V9)
	if err != nil {
		return nil, err
	}
	ipfixn, err := normalizer(configuration.IPFIX)
	if err != nil {
		return nil, err
	}
	nd.decoders = map[decoder.Version]decoder.Decoder{
		decoder.VersionV5: &v5Decoder{
			nd:         nd,
			normalizer: v5n,
			batchSize:  configuration.V5.BatchSize,
		},
		decoder.VersionV9: &v9Decoder{
			nd:         nd,
			normalizer: v9n,
			batchSize:  configuration.V9.BatchSize,
			templates:  dependencies.V9Templates,
		},
		decoder.VersionIPFIX: &ipfixDecoder{
			nd:         nd,
			normalizer: ipfixn,
			batchSize:  configuration.IPFIX.BatchSize,
			templates:  dependencies.IPFIXTemplates,
		},
	}

	nd.metrics.packets = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "packets_total",
			Help: "Export packets processed.",
		},
		[]string{"exporter", "version", "outcome"},
	)
	nd.metrics.errors = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Export packets processed errors.",
		},
		[]string{"exporter", "error"},
	)
	nd.metrics.stats = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "flows_total",
			Help: "Flow records decoded.",
		},
		[]string{"exporter", "version"},
	)
	nd.metrics.setStatsSum = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "flowset_sum",
			Help: "FlowSets sum.",
		},
		[]string{"exporter", "version", "type"},
	)
	nd.metrics.setRecordsStatsSum = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "flowset_records_sum",
			Help: "FlowSets sum of records.",
		},
		[]string{"exporter", "version", "type"},
	)
	nd.metrics.templatesStats = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "templates_total",
			Help: "Templates received.",
		},
		[]string{"exporter", "version", "result"},
	)
	nd.metrics.templatesMissing = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "templates_missing_total",
			Help: "Data sets received before their template.",
		},
		[]string{"exporter", "version"},
	)
	nd.metrics.normalized = nd.r.CounterVec(
		reporter.CounterOpts{
			Name: "normalized_total",
			Help: "Flow records whose source and destination were swapped.",
		},
		[]string{"exporter", "version"},
	)

	return nd, nil
}

// Templates returns the template caches for NetFlow v9 and IPFIX.
func (nd *Decoder) Templates() (*templates.Cache, *templates.Cache) {
	return nd.d.V9Templates, nd.d.IPFIXTemplates
}

// ClassifyAndDecode decodes a payload received now from the provided exporter.
func (nd *Decoder) ClassifyAndDecode(payload []byte, exporter decoder.ExporterID) decoder.Outcome {
	return nd.Decode(decoder.RawPacket{
		TimeReceived: nd.d.Clock.Now(),
		Payload:      payload,
		Exporter:     exporter,
	})
}

// Decode decodes an export packet. It never panics, whatever the
// payload is.
func (nd *Decoder) Decode(in decoder.RawPacket) decoder.Outcome {
	key := in.Exporter.String()
	if in.TimeReceived.IsZero() {
		in.TimeReceived = nd.d.Clock.Now()
	}
	if len(in.Payload) < 2 {
		err := fmt.Errorf("payload of %d bytes: %w", len(in.Payload), decoder.ErrMalformed)
		return nd.outcome(key, decoder.VersionUnknown, nil, err)
	}

	version := decoder.DetectVersion(in.Payload)
	d, ok := nd.decoders[version]
	if !ok {
		err := fmt.Errorf("version %d: %w", byteorder.Uint16(in.Payload[:2]), decoder.ErrUnsupported)
		return nd.outcome(key, version, nil, err)
	}
	batches, err := d.Decode(in)
	return nd.outcome(key, version, batches, err)
}

func (nd *Decoder) outcome(key string, version decoder.Version, batches []*decoder.FlowBatch, err error) decoder.Outcome {
	var o decoder.Outcome
	switch {
	case errors.Is(err, decoder.ErrMalformed):
		o = decoder.Outcome{Kind: decoder.OutcomeMalformed, Reason: err}
	case len(batches) > 0:
		o = decoder.Outcome{Kind: decoder.OutcomeFlows, Batches: batches}
	case err != nil:
		o = decoder.Outcome{Kind: decoder.OutcomeSkipped, Reason: err}
	default:
		o = decoder.Outcome{Kind: decoder.OutcomeSkipped, Reason: decoder.ErrNoFlows}
	}

	nd.metrics.packets.WithLabelValues(key, version.String(), o.Kind.String()).Inc()
	if records := o.Records(); records > 0 {
		nd.metrics.stats.WithLabelValues(key, version.String()).Add(float64(records))
	}
	if o.Reason != nil && !errors.Is(o.Reason, decoder.ErrNoFlows) {
		nd.metrics.errors.WithLabelValues(key, errorLabel(o.Reason)).Inc()
		if o.Kind == decoder.OutcomeMalformed {
			nd.errLogger.Err(o.Reason).Str("exporter", key).Str("version", version.String()).
				Msg("cannot decode export packet")
		}
	}
	return o
}

func errorLabel(err error) string {
	for _, e := range []error{
		decoder.ErrMalformed,
		decoder.ErrTemplateMissing,
		decoder.ErrResourceExhausted,
		decoder.ErrUnsupported,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "other"
}

// setStats counts a set and its records.
func (nd *Decoder) setStats(key string, version decoder.Version, kind string, records int) {
	nd.metrics.setStatsSum.WithLabelValues(key, version.String(), kind).Inc()
	if records > 0 {
		nd.metrics.setRecordsStatsSum.WithLabelValues(key, version.String(), kind).Add(float64(records))
	}
}

// storeTemplate stores a template in the provided cache and counts the result.
func (nd *Decoder) storeTemplate(cache *templates.Cache, version decoder.Version, key templates.Key, tpl *templates.Template) {
	exporter := key.Exporter.String()
	result, err := cache.Set(context.Background(), key, tpl)
	if err != nil {
		nd.metrics.templatesStats.WithLabelValues(exporter, version.String(), "error").Inc()
		nd.errLogger.Err(err).Str("exporter", exporter).Str("template", strconv.Itoa(int(key.TemplateID))).
			Msg("cannot store template")
		return
	}
	nd.metrics.templatesStats.WithLabelValues(exporter, version.String(), result.String()).Inc()
}

// batcher accumulates records into bounded batches.
type batcher struct {
	batches      []*decoder.FlowBatch
	exporter     decoder.ExporterID
	version      decoder.Version
	timeReceived time.Time
	sampling     uint16
	capacity     int
}

func (b *batcher) add(record decoder.FlowRecord) {
	if len(b.batches) == 0 || b.batches[len(b.batches)-1].Full() {
		batch := decoder.NewFlowBatch(b.exporter, b.version, b.capacity)
		batch.TimeReceived = b.timeReceived
		batch.SamplingInterval = b.sampling
		b.batches = append(b.batches, batch)
	}
	// Cannot fail: the last batch is not full.
	b.batches[len(b.batches)-1].Append(record)
}
