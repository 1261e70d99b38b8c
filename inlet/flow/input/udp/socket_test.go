// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package udp

import (
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"cnetflow/common/reporter"
)

func listenUDP(t *testing.T, r *reporter.Reporter, options []socketOption, address string) *net.UDPConn {
	t.Helper()
	conn, err := listenConfig(r, options).ListenPacket(context.Background(), "udp", address)
	if err != nil {
		t.Fatalf("ListenPacket() error:\n%+v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*net.UDPConn)
}

func TestListenConfig(t *testing.T) {
	r := reporter.NewMock(t)
	cases := []struct {
		Description string
		Option      socketOption
		Error       bool
	}{
		{
			Description: "mandatory option",
			Option:      socketOption{"SO_REUSEADDR", unix.SOL_SOCKET, unix.SO_REUSEADDR, true},
		}, {
			Description: "unknown mandatory option",
			Option:      socketOption{"SO_UNKNOWN", unix.SOL_SOCKET, 9999, true},
			Error:       true,
		}, {
			Description: "unknown optional option",
			Option:      socketOption{"SO_UNKNOWN", unix.SOL_SOCKET, 9999, false},
		},
	}
	for _, tc := range cases {
		t.Run(tc.Description, func(t *testing.T) {
			conn, err := listenConfig(r, []socketOption{tc.Option}).
				ListenPacket(context.Background(), "udp", "127.0.0.1:0")
			if err == nil {
				conn.Close()
			}
			switch {
			case err != nil && !tc.Error:
				t.Fatalf("ListenPacket() error:\n%+v", err)
			case err == nil && tc.Error:
				t.Fatal("ListenPacket() did not error")
			}
		})
	}
}

func TestSharedPort(t *testing.T) {
	r := reporter.NewMock(t)
	first := listenUDP(t, r, udpSocketOptions, "127.0.0.1:0")
	second := listenUDP(t, r, udpSocketOptions, first.LocalAddr().String())
	if first.LocalAddr().String() != second.LocalAddr().String() {
		t.Fatalf("LocalAddr() == %s and %s", first.LocalAddr(), second.LocalAddr())
	}
}

func TestParseSocketControlMessage(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("socket control messages are only parsed on Linux")
	}
	r := reporter.NewMock(t)
	server := listenUDP(t, r, udpSocketOptions, "127.0.0.1:0")
	client, err := net.Dial("udp", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error:\n%+v", err)
	}
	defer client.Close()

	// Flood the socket without reading until some datagrams are lost.
	// We notice it when draining the queue runs out of datagrams early.
	buffer := make([]byte, 1500)
	overflow := false
	for count := 100; count <= 1_000_000 && !overflow; count *= 10 {
		for range count {
			client.Write([]byte("template"))
		}
		server.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		for range count {
			if _, _, err := server.ReadFrom(buffer); errors.Is(err, os.ErrDeadlineExceeded) {
				overflow = true
				break
			}
		}
	}
	if !overflow {
		t.Fatal("unable to overflow the receive queue")
	}

	server.SetReadDeadline(time.Time{})
	before := time.Now()
	if _, err := client.Write([]byte("data")); err != nil {
		t.Fatalf("Write() error:\n%+v", err)
	}
	oob := make([]byte, oobLength)
	n, oobn, _, _, err := server.ReadMsgUDP(buffer, oob)
	if err != nil {
		t.Fatalf("ReadMsgUDP() error:\n%+v", err)
	}
	if got := string(buffer[:n]); got != "data" {
		t.Fatalf("ReadMsgUDP() == %q, expected %q", got, "data")
	}

	msg, err := parseSocketControlMessage(oob[:oobn])
	if err != nil {
		t.Fatalf("parseSocketControlMessage() error:\n%+v", err)
	}
	if msg.Drops == 0 || msg.Drops > 1_000_000 {
		t.Errorf("parseSocketControlMessage() drops == %d", msg.Drops)
	}
	if !msg.Received.IsZero() && msg.Received.Before(before.Add(-time.Second)) {
		t.Errorf("parseSocketControlMessage() received == %s, before %s", msg.Received, before)
	}
}
