// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package pcap replays export packets from packet captures.
package pcap

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"gopkg.in/tomb.v2"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/input"
)

// Input represents the state of a pcap input.
type Input struct {
	r      *reporter.Reporter
	t      tomb.Tomb
	config *Configuration
	send   input.SendFunc

	metrics struct {
		packets *reporter.CounterVec
		skipped *reporter.CounterVec
	}
}

var (
	_ input.Input         = &Input{}
	_ input.Configuration = &Configuration{}
)

// New instantiate a new pcap input from the provided configuration.
func (configuration *Configuration) New(r *reporter.Reporter, daemon daemon.Component, send input.SendFunc) (input.Input, error) {
	if len(configuration.Paths) == 0 {
		return nil, errors.New("no paths provided for pcap input")
	}
	input := &Input{
		r:      r,
		config: configuration,
		send:   send,
	}
	input.metrics.packets = r.CounterVec(
		reporter.CounterOpts{
			Name: "packets_total",
			Help: "Export packets extracted from captures.",
		},
		[]string{"path", "exporter"},
	)
	input.metrics.skipped = r.CounterVec(
		reporter.CounterOpts{
			Name: "skipped_packets_total",
			Help: "Captured packets not handed to the decoders.",
		},
		[]string{"path", "reason"},
	)
	daemon.Track(&input.t, "inlet/flow/input/pcap")
	return input, nil
}

// Start starts replaying the capture files.
func (in *Input) Start() error {
	in.r.Info().Strs("paths", in.config.Paths).Msg("pcap input starting")
	in.t.Go(func() error {
		for {
			for _, path := range in.config.Paths {
				if err := in.replay(path); err != nil {
					in.r.Err(err).Str("path", path).Msg("unable to replay capture")
					return err
				}
				if !in.t.Alive() {
					return nil
				}
			}
			if !in.config.Loop {
				in.r.Info().Msg("all captures replayed")
				<-in.t.Dying()
				return nil
			}
		}
	})
	return nil
}

// replay sends all the matching UDP payloads of a capture file.
func (in *Input) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("cannot read capture header: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.NoCopy = true
	dying := in.t.Dying()
	for packet := range source.Packets() {
		select {
		case <-dying:
			return nil
		default:
		}
		exporter, payload, reason := in.extract(packet)
		if reason != "" {
			in.metrics.skipped.WithLabelValues(path, reason).Inc()
			continue
		}
		received := time.Now()
		if in.config.UseCaptureTime {
			received = packet.Metadata().Timestamp
		}
		in.metrics.packets.WithLabelValues(path, exporter.String()).Inc()
		in.send(exporter, payload, received)
	}
	return nil
}

// extract returns the exporter address and the UDP payload of a packet.
// When the packet is not suitable, a reason is returned.
func (in *Input) extract(packet gopacket.Packet) (netip.Addr, []byte, string) {
	if err := packet.ErrorLayer(); err != nil {
		return netip.Addr{}, nil, "decoding error"
	}
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return netip.Addr{}, nil, "not UDP"
	}
	if len(in.config.Ports) > 0 && !slices.Contains(in.config.Ports, uint16(udp.DstPort)) {
		return netip.Addr{}, nil, "port mismatch"
	}
	var exporter netip.Addr
	switch network := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		exporter, _ = netip.AddrFromSlice(network.SrcIP)
	case *layers.IPv6:
		exporter, _ = netip.AddrFromSlice(network.SrcIP)
	}
	if !exporter.IsValid() {
		return netip.Addr{}, nil, "no source address"
	}
	return exporter.Unmap(), udp.Payload, ""
}

// Stop stops the pcap input
func (in *Input) Stop() error {
	defer in.r.Info().Msg("pcap input stopped")
	in.t.Kill(nil)
	return in.t.Wait()
}
