// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package udp handles UDP listeners receiving export packets.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"gopkg.in/tomb.v2"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/input"
)

// Input represents the state of an UDP listener.
type Input struct {
	r      *reporter.Reporter
	t      tomb.Tomb
	config *Configuration

	metrics struct {
		bytes   *reporter.CounterVec
		packets *reporter.CounterVec
		sizes   *reporter.SummaryVec
		errors  *reporter.CounterVec
		drops   *reporter.CounterVec
	}

	address net.Addr // first bound address, once started
	send    input.SendFunc
}

// New instantiate a new UDP listener from the provided configuration.
func (configuration *Configuration) New(r *reporter.Reporter, daemon daemon.Component, send input.SendFunc) (input.Input, error) {
	in := &Input{
		r:      r,
		config: configuration,
		send:   send,
	}
	perExporter := []string{"listener", "worker", "exporter"}
	perWorker := []string{"listener", "worker"}
	in.metrics.bytes = r.CounterVec(reporter.CounterOpts{
		Name: "bytes_total",
		Help: "Bytes received from exporters.",
	}, perExporter)
	in.metrics.packets = r.CounterVec(reporter.CounterOpts{
		Name: "packets_total",
		Help: "Export packets received from exporters.",
	}, perExporter)
	in.metrics.sizes = r.SummaryVec(reporter.SummaryOpts{
		Name:       "size_bytes",
		Help:       "Size of received export packets.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, perExporter)
	in.metrics.errors = r.CounterVec(reporter.CounterOpts{
		Name: "errors_total",
		Help: "Errors while reading from the socket.",
	}, perWorker)
	in.metrics.drops = r.CounterVec(reporter.CounterOpts{
		Name: "in_dropped_packets_total",
		Help: "Packets dropped by the kernel because the receive queue was full.",
	}, perWorker)

	daemon.Track(&in.t, "inlet/flow/input/udp")
	return in, nil
}

// listen opens one socket per worker. All sockets share the same
// address thanks to SO_REUSEPORT.
func (in *Input) listen() ([]*net.UDPConn, error) {
	lc := listenConfig(in.r, udpSocketOptions)
	ctx := in.t.Context(context.Background())
	conns := make([]*net.UDPConn, 0, in.config.Workers)
	address := in.config.Listen
	for range in.config.Workers {
		pconn, err := lc.ListenPacket(ctx, "udp", address)
		if err != nil {
			for _, conn := range conns {
				conn.Close()
			}
			return nil, fmt.Errorf("unable to listen to %v: %w", address, err)
		}
		conn := pconn.(*net.UDPConn)
		if len(conns) == 0 {
			// With port 0, next workers need the allocated port.
			in.address = conn.LocalAddr()
			address = in.address.String()
		}
		if in.config.ReceiveBuffer > 0 {
			// Linux silently caps the size to net.core.rmem_max.
			if err := conn.SetReadBuffer(int(in.config.ReceiveBuffer)); err != nil {
				in.r.Warn().Err(err).
					Str("listen", address).
					Uint("size", in.config.ReceiveBuffer).
					Msg("unable to set requested buffer size")
			}
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// Start starts listening to the provided UDP socket and producing export
// packets.
func (in *Input) Start() error {
	in.r.Info().Str("listen", in.config.Listen).Msg("starting UDP input")
	conns, err := in.listen()
	if err != nil {
		return err
	}
	in.r.Info().Str("listen", in.address.String()).Int("workers", len(conns)).Msg("UDP input listening")

	for i, conn := range conns {
		in.t.Go(func() error {
			return in.receive(conn, strconv.Itoa(i))
		})
	}
	in.t.Go(func() error {
		<-in.t.Dying()
		for _, conn := range conns {
			conn.Close()
		}
		return nil
	})
	return nil
}

// receive reads datagrams from conn until it is closed.
func (in *Input) receive(conn *net.UDPConn, worker string) error {
	size := in.config.MaxPacketSize
	if size == 0 {
		size = 9000
	}
	payload := make([]byte, size)
	oob := make([]byte, oobLength)
	listen := in.config.Listen
	errLogger := in.r.With().
		Str("worker", worker).
		Str("listen", listen).
		Logger().
		Sample(reporter.BurstSampler(time.Minute, 1))
	errCounter := in.metrics.errors.WithLabelValues(listen, worker)
	drops := in.metrics.drops.WithLabelValues(listen, worker)
	var lastDrops uint32
	dying := in.t.Dying()

	for {
		n, oobn, _, source, err := conn.ReadMsgUDPAddrPort(payload, oob)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			errLogger.Err(err).Msg("unable to receive UDP packet")
			errCounter.Inc()
			continue
		}

		msg, err := parseSocketControlMessage(oob[:oobn])
		if err != nil {
			errLogger.Err(err).Msg("unable to decode UDP control message")
		} else if msg.Drops != lastDrops {
			// The kernel reports a running total for the socket.
			drops.Add(float64(msg.Drops - lastDrops))
			lastDrops = msg.Drops
		}
		if msg.Received.IsZero() {
			msg.Received = time.Now()
		}

		exporter := source.Addr().Unmap()
		exporterStr := exporter.String()
		in.metrics.bytes.WithLabelValues(listen, worker, exporterStr).Add(float64(n))
		in.metrics.packets.WithLabelValues(listen, worker, exporterStr).Inc()
		in.metrics.sizes.WithLabelValues(listen, worker, exporterStr).Observe(float64(n))
		in.send(exporter, payload[:n], msg.Received)

		select {
		case <-dying:
			return nil
		default:
		}
	}
}

// Stop stops the UDP listeners
func (in *Input) Stop() error {
	defer in.r.Info().Str("listen", in.config.Listen).Msg("UDP listener stopped")
	in.t.Kill(nil)
	return in.t.Wait()
}
