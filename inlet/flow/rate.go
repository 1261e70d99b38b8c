// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package flow

import (
	"time"

	"golang.org/x/time/rate"

	"cnetflow/inlet/flow/decoder"
)

type limiter struct {
	l           *rate.Limiter
	dropped     uint64  // dropped during the current tick
	total       uint64  // total during the current tick
	dropRate    float64 // drop rate during the last tick
	currentTick time.Time
}

// allowPacket tells if we can accept a packet from the provided
// exporter, depending on the rate limiter configuration. When allowed,
// it also returns the factor to apply to the sampling rate of the
// decoded flows to compensate for the packets dropped during the
// previous tick.
func (c *Component) allowPacket(exporter decoder.ExporterID) (bool, float64) {
	if c.config.RateLimit == 0 {
		return true, 1
	}
	c.limitersLock.Lock()
	defer c.limitersLock.Unlock()
	exporterLimiter, ok := c.limiters[exporter]
	if !ok {
		burst := int(c.config.RateLimit / 10)
		exporterLimiter = &limiter{
			l: rate.NewLimiter(c.config.RateLimit, max(burst, 1)),
		}
		c.limiters[exporter] = exporterLimiter
	}
	now := c.d.Clock.Now()
	tick := now.Truncate(200 * time.Millisecond) // we use a 200-millisecond resolution
	if !exporterLimiter.currentTick.Equal(tick) {
		exporterLimiter.dropRate = 0
		if exporterLimiter.total > 0 {
			exporterLimiter.dropRate = float64(exporterLimiter.dropped) / float64(exporterLimiter.total)
		}
		exporterLimiter.dropped = 0
		exporterLimiter.total = 0
		exporterLimiter.currentTick = tick
	}
	exporterLimiter.total++
	if !exporterLimiter.l.AllowN(now, 1) {
		exporterLimiter.dropped++
		return false, 1
	}
	if exporterLimiter.dropRate > 0 && exporterLimiter.dropRate < 1 {
		return true, 1 / (1 - exporterLimiter.dropRate)
	}
	return true, 1
}

// adjustSampling scales the sampling interval of a batch by the
// provided factor.
func adjustSampling(batch *decoder.FlowBatch, factor float64) {
	if factor <= 1 {
		return
	}
	interval := max(float64(batch.SamplingInterval), 1) * factor
	batch.SamplingInterval = uint16(min(interval, float64(^uint16(0))))
}
