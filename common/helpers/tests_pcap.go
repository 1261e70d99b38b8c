// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package helpers

import (
	"bytes"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReadPcapPayload reads and parses a PCAP file and return the payload (after Layer 4).
func ReadPcapPayload(t testing.TB, pcapfile string) []byte {
	t.Helper()
	f, err := os.Open(pcapfile)
	if err != nil {
		t.Fatalf("Open(%q) error:\n%+v", pcapfile, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("NewReader(%q) error:\n%+v", pcapfile, err)
	}
	payload := bytes.NewBuffer([]byte{})
	source := gopacket.NewPacketSource(reader, layers.LayerTypeEthernet)
	for packet := range source.Packets() {
		payload.Write(packet.TransportLayer().LayerPayload())
	}
	return payload.Bytes()
}

// PcapUDPPacket is an UDP datagram to be written by WritePcap.
type PcapUDPPacket struct {
	Timestamp time.Time
	Source    netip.AddrPort
	Target    netip.AddrPort
	Payload   []byte
}

// WritePcap writes the provided UDP datagrams into a new PCAP file.
func WritePcap(t testing.TB, pcapfile string, packets []PcapUDPPacket) {
	t.Helper()
	f, err := os.Create(pcapfile)
	if err != nil {
		t.Fatalf("Create(%q) error:\n%+v", pcapfile, err)
	}
	defer f.Close()
	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader() error:\n%+v", err)
	}
	for _, packet := range packets {
		eth := layers.Ethernet{
			SrcMAC: []byte{0x02, 0, 0, 0, 0, 1},
			DstMAC: []byte{0x02, 0, 0, 0, 0, 2},
		}
		udp := layers.UDP{
			SrcPort: layers.UDPPort(packet.Source.Port()),
			DstPort: layers.UDPPort(packet.Target.Port()),
		}
		var network gopacket.SerializableLayer
		if packet.Source.Addr().Is4() {
			eth.EthernetType = layers.EthernetTypeIPv4
			ip := &layers.IPv4{
				Version:  4,
				TTL:      64,
				Protocol: layers.IPProtocolUDP,
				SrcIP:    packet.Source.Addr().AsSlice(),
				DstIP:    packet.Target.Addr().AsSlice(),
			}
			udp.SetNetworkLayerForChecksum(ip)
			network = ip
		} else {
			eth.EthernetType = layers.EthernetTypeIPv6
			ip := &layers.IPv6{
				Version:    6,
				HopLimit:   64,
				NextHeader: layers.IPProtocolUDP,
				SrcIP:      packet.Source.Addr().AsSlice(),
				DstIP:      packet.Target.Addr().AsSlice(),
			}
			udp.SetNetworkLayerForChecksum(ip)
			network = ip
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts,
			&eth, network, &udp, gopacket.Payload(packet.Payload)); err != nil {
			t.Fatalf("SerializeLayers() error:\n%+v", err)
		}
		data := buf.Bytes()
		if err := writer.WritePacket(gopacket.CaptureInfo{
			Timestamp:     packet.Timestamp,
			CaptureLength: len(data),
			Length:        len(data),
		}, data); err != nil {
			t.Fatalf("WritePacket() error:\n%+v", err)
		}
	}
}
