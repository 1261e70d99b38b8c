// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package flow handles incoming NetFlow/IPFIX export packets: it
// receives them from the inputs, decodes them with a pool of workers
// and hands the decoded flows to the sink.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/tomb.v2"

	"cnetflow/common/arena"
	"cnetflow/common/daemon"
	"cnetflow/common/httpserver"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/decoder/netflow"
	"cnetflow/inlet/flow/input"
	"cnetflow/inlet/flow/templates"
	"cnetflow/inlet/sink"
)

// Component represents the flow component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	t      tomb.Tomb
	config Configuration

	errLogger reporter.Logger

	inputs  []input.Input
	decoder *netflow.Decoder
	v9      *templates.Cache
	ipfix   *templates.Cache
	arenas  []*arena.Arena
	redis   *templates.RedisColdStore

	// scratch holds packets waiting in the queue. closed is set once
	// the queue is closed and both are protected by queueLock.
	scratch   *arena.Arena
	queue     chan job
	queueLock sync.RWMutex
	closed    bool

	limiters     map[decoder.ExporterID]*limiter
	limitersLock sync.Mutex

	healthy chan reporter.ChannelHealthcheckFunc

	metrics struct {
		received    *reporter.CounterVec
		dropped     *reporter.CounterVec
		decoderTime *reporter.SummaryVec
		sinkBatches *reporter.CounterVec
		sinkFlows   *reporter.CounterVec
	}
}

// Dependencies are the dependencies of the flow component.
type Dependencies struct {
	Daemon    daemon.Component
	HTTP      *httpserver.Component
	Sink      sink.Sink
	Clock     clock.Clock
	ColdStore templates.ColdStore
}

type job struct {
	exporter decoder.ExporterID
	payload  []byte
	received time.Time
	factor   float64
}

// New creates a new flow component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	if len(configuration.Inputs) == 0 {
		return nil, errors.New("no input configured")
	}
	if dependencies.Sink == nil {
		return nil, errors.New("no sink configured")
	}
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	var redis *templates.RedisColdStore
	if dependencies.ColdStore == nil && configuration.Templates.Redis.Enable {
		var err error
		redis, err = templates.NewRedisColdStore(configuration.Templates.Redis)
		if err != nil {
			return nil, err
		}
		dependencies.ColdStore = redis
	}

	c := Component{
		r:         r,
		d:         &dependencies,
		config:    configuration,
		errLogger: r.Sample(reporter.BurstSampler(30*time.Second, 3)),
		inputs:    make([]input.Input, len(configuration.Inputs)),
		queue:     make(chan job, configuration.QueueSize),
		limiters:  make(map[decoder.ExporterID]*limiter),
		redis:     redis,
		healthy:   make(chan reporter.ChannelHealthcheckFunc),
	}

	var err error
	c.scratch, err = arena.New(configuration.ScratchArenaSize)
	if err != nil {
		return nil, fmt.Errorf("cannot create scratch arena: %w", err)
	}
	c.arenas = append(c.arenas, c.scratch)
	newCache := func(family templates.Family) (*templates.Cache, error) {
		a, err := arena.New(configuration.Templates.ArenaSize)
		if err != nil {
			return nil, fmt.Errorf("cannot create %s template arena: %w", family, err)
		}
		c.arenas = append(c.arenas, a)
		return templates.NewCache(r, family, configuration.Templates, templates.Dependencies{
			Arena:     a,
			ColdStore: dependencies.ColdStore,
			Clock:     dependencies.Clock,
		})
	}
	if c.v9, err = newCache(templates.FamilyV9); err != nil {
		c.destroyArenas()
		return nil, err
	}
	if c.ipfix, err = newCache(templates.FamilyIPFIX); err != nil {
		c.destroyArenas()
		return nil, err
	}
	c.decoder, err = netflow.New(r, configuration.Decoder, netflow.Dependencies{
		Clock:          dependencies.Clock,
		V9Templates:    c.v9,
		IPFIXTemplates: c.ipfix,
	})
	if err != nil {
		c.destroyArenas()
		return nil, fmt.Errorf("cannot create decoder: %w", err)
	}

	for idx, input := range c.config.Inputs {
		c.inputs[idx], err = input.Config.New(r, c.d.Daemon, c.Send)
		if err != nil {
			c.destroyArenas()
			return nil, err
		}
	}

	c.initMetrics()
	c.d.Daemon.Track(&c.t, "inlet/flow")
	return &c, nil
}

func (c *Component) initMetrics() {
	c.metrics.received = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "received_packets_total",
			Help: "Number of export packets received from inputs.",
		},
		[]string{"exporter"},
	)
	c.metrics.dropped = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "dropped_packets_total",
			Help: "Number of export packets dropped before decoding.",
		},
		[]string{"exporter", "reason"},
	)
	c.metrics.decoderTime = c.r.SummaryVec(
		reporter.SummaryOpts{
			Name:       "decoder_time_seconds",
			Help:       "Time spent decoding an export packet.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"outcome"},
	)
	c.metrics.sinkBatches = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "sink_batches_total",
			Help: "Number of flow batches handed to the sink.",
		},
		[]string{"result"},
	)
	c.metrics.sinkFlows = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "sink_flows_total",
			Help: "Number of flows accepted by the sink.",
		},
		[]string{"exporter"},
	)
	c.r.GaugeFunc(
		reporter.GaugeOpts{
			Name: "queue_length",
			Help: "Number of export packets waiting to be decoded.",
		},
		func() float64 {
			return float64(len(c.queue))
		},
	)
}

// Send hands an export packet to the decoding workers. It never blocks:
// when the packet cannot be queued, it is dropped. The payload is
// copied and can be reused by the caller once Send returns.
func (c *Component) Send(exporter netip.Addr, payload []byte, received time.Time) {
	id := decoder.ExporterIDFromAddr(exporter)
	exporterStr := id.String()
	c.metrics.received.WithLabelValues(exporterStr).Inc()

	c.queueLock.RLock()
	defer c.queueLock.RUnlock()
	if c.closed {
		c.metrics.dropped.WithLabelValues(exporterStr, "stopped").Inc()
		return
	}
	allowed, factor := c.allowPacket(id)
	if !allowed {
		c.metrics.dropped.WithLabelValues(exporterStr, "rate limit").Inc()
		return
	}

	var region []byte
	if len(payload) > 0 {
		var err error
		region, err = c.scratch.Alloc(len(payload))
		if err != nil {
			c.errLogger.Warn().Err(err).Str("exporter", exporterStr).Msg("cannot queue export packet")
			c.metrics.dropped.WithLabelValues(exporterStr, "resource exhausted").Inc()
			return
		}
		copy(region, payload)
	}
	select {
	case c.queue <- job{exporter: id, payload: region, received: received, factor: factor}:
	default:
		c.release(region)
		c.metrics.dropped.WithLabelValues(exporterStr, "queue full").Inc()
	}
}

// release gives back the memory used by a queued packet.
func (c *Component) release(region []byte) {
	if region == nil {
		return
	}
	if err := c.scratch.Free(region); err != nil {
		c.errLogger.Err(err).Msg("cannot release export packet")
	}
}

// Start starts the flow component.
func (c *Component) Start() error {
	c.r.Info().Int("workers", c.config.Workers).Msg("starting flow component")
	if c.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx); err != nil {
			c.r.Warn().Err(err).Msg("template cold store not reachable")
		}
	}
	if c.d.HTTP != nil {
		c.d.HTTP.GinRouter.GET("/api/v0/inlet/templates",
			c.d.HTTP.CacheByRequestURI(time.Second),
			c.templatesHTTPHandler)
	}
	c.r.RegisterHealthcheck("flow", reporter.ChannelHealthcheck(c.t.Context(nil), c.healthy))
	if c.d.ColdStore != nil {
		c.t.Go(c.expireNegativeTemplates)
	}
	for i := range c.config.Workers {
		c.t.Go(func() error {
			return c.worker(i)
		})
	}
	for idx, input := range c.inputs {
		if err := input.Start(); err != nil {
			// Inputs started before are stopped by Stop().
			c.inputs = c.inputs[:idx]
			return fmt.Errorf("cannot start input %d: %w", idx, err)
		}
	}
	return nil
}

// expireNegativeTemplates periodically forgets templates known to be
// missing from the cold store.
func (c *Component) expireNegativeTemplates() error {
	ticker := c.d.Clock.Ticker(c.config.Templates.NegativeTTL)
	defer ticker.Stop()
	for {
		select {
		case <-c.t.Dying():
			return nil
		case <-ticker.C:
			if n := c.v9.ExpireNegative() + c.ipfix.ExpireNegative(); n > 0 {
				c.r.Debug().Int("expired", n).Msg("expired negative template entries")
			}
		}
	}
}

// worker decodes queued packets until the queue is closed.
func (c *Component) worker(i int) error {
	l := c.r.With().Int("worker", i).Logger()
	l.Debug().Msg("starting decoding worker")
	defer l.Debug().Msg("decoding worker stopped")
	for {
		select {
		case cb, ok := <-c.healthy:
			if !ok {
				continue
			}
			if queued := len(c.queue); queued > cap(c.queue)*9/10 {
				cb(reporter.HealthcheckWarning, fmt.Sprintf("worker %d: queue almost full (%d)", i, queued))
			} else {
				cb(reporter.HealthcheckOK, fmt.Sprintf("worker %d ok", i))
			}
		case j, ok := <-c.queue:
			if !ok {
				return nil
			}
			c.process(j)
		}
	}
}

// Stop stops the flow component. Inputs are stopped first, then the
// queued packets are decoded and handed to the sink. Memory arenas
// are released last.
func (c *Component) Stop() error {
	defer c.r.Info().Msg("flow component stopped")
	c.r.Info().Msg("stopping flow component")
	for _, input := range c.inputs {
		if err := input.Stop(); err != nil {
			c.r.Err(err).Msg("cannot stop input")
		}
	}
	c.queueLock.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.queueLock.Unlock()
	c.t.Kill(nil)
	err := c.t.Wait()
	c.destroyArenas()
	if c.redis != nil {
		c.redis.Close()
	}
	return err
}

func (c *Component) destroyArenas() {
	for _, a := range c.arenas {
		if err := a.Destroy(); err != nil && !errors.Is(err, arena.ErrDestroyed) {
			c.r.Err(err).Msg("cannot destroy arena")
		}
	}
}
