// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package flow

import (
	"context"
	"time"

	"cnetflow/inlet/flow/decoder"
)

// process decodes a queued packet, hands the decoded batches to the
// sink and releases the packet memory.
func (c *Component) process(j job) {
	defer c.release(j.payload)

	timeTrackStart := time.Now()
	outcome := c.decoder.Decode(decoder.RawPacket{
		TimeReceived: j.received,
		Payload:      j.payload,
		Exporter:     j.exporter,
	})
	c.metrics.decoderTime.WithLabelValues(outcome.Kind.String()).
		Observe(time.Since(timeTrackStart).Seconds())
	if outcome.Kind != decoder.OutcomeFlows {
		return
	}

	exporter := j.exporter.String()
	for _, batch := range outcome.Batches {
		adjustSampling(batch, j.factor)
		if err := c.d.Sink.InsertFlows(context.Background(), batch); err != nil {
			c.errLogger.Err(err).
				Str("exporter", exporter).
				Int("flows", batch.Len()).
				Msg("cannot insert flows")
			c.metrics.sinkBatches.WithLabelValues("error").Inc()
			continue
		}
		c.metrics.sinkBatches.WithLabelValues("ok").Inc()
		c.metrics.sinkFlows.WithLabelValues(exporter).Add(float64(batch.Len()))
	}
}
