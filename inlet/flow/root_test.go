// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package flow

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"cnetflow/common/daemon"
	"cnetflow/common/helpers"
	"cnetflow/common/httpserver"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/input/file"
	"cnetflow/inlet/flow/templates"
)

var testExporter = netip.MustParseAddr("192.0.2.1")

// v5Packet builds a NetFlow v5 export packet with the provided number
// of records.
func v5Packet(records int, sampling uint16) []byte {
	b := make([]byte, 24+48*records)
	binary.BigEndian.PutUint16(b[0:], 5)
	binary.BigEndian.PutUint16(b[2:], uint16(records))
	binary.BigEndian.PutUint32(b[4:], 100_000)
	binary.BigEndian.PutUint32(b[8:], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint16(b[22:], sampling)
	for i := range records {
		r := b[24+48*i : 24+48*(i+1)]
		copy(r[0:4], []byte{10, 0, 0, byte(i + 1)})
		copy(r[4:8], []byte{192, 0, 2, 10})
		binary.BigEndian.PutUint32(r[16:], 10)
		binary.BigEndian.PutUint32(r[20:], 1000)
		binary.BigEndian.PutUint32(r[24:], 90_000)
		binary.BigEndian.PutUint32(r[28:], 95_000)
		binary.BigEndian.PutUint16(r[32:], 443)
		binary.BigEndian.PutUint16(r[34:], 51000)
		r[38] = 6
	}
	return b
}

// v9TemplatePacket builds a NetFlow v9 export packet with a single template.
func v9TemplatePacket(tpl templates.Template) []byte {
	body := tpl.Bytes()
	b := make([]byte, 20, 24+len(body))
	binary.BigEndian.PutUint16(b[0:], 9)
	binary.BigEndian.PutUint16(b[2:], 1)
	binary.BigEndian.PutUint32(b[4:], 100_000)
	binary.BigEndian.PutUint32(b[8:], uint32(time.Now().Unix()))
	b = binary.BigEndian.AppendUint16(b, 0)
	b = binary.BigEndian.AppendUint16(b, uint16(4+len(body)))
	return append(b, body...)
}

func testConfiguration() Configuration {
	config := DefaultConfiguration()
	config.Inputs = nil
	config.Workers = 1
	config.ScratchArenaSize = 1 << 20
	config.Templates.ArenaSize = 1 << 20
	return config
}

func receiveBatch(t *testing.T, batches <-chan *decoder.FlowBatch) *decoder.FlowBatch {
	t.Helper()
	select {
	case batch := <-batches:
		return batch
	case <-time.After(time.Second):
		t.Fatal("no flow batch received")
	}
	return nil
}

// blockingSink blocks each insertion until release is closed.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	batches chan *decoder.FlowBatch
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		entered: make(chan struct{}, 100),
		release: make(chan struct{}),
		batches: make(chan *decoder.FlowBatch, 100),
	}
}

func (s *blockingSink) InsertFlows(_ context.Context, batch *decoder.FlowBatch) error {
	s.entered <- struct{}{}
	<-s.release
	s.batches <- batch
	return nil
}

func TestFlowFromFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{}
	for i := range 3 {
		path := filepath.Join(dir, fmt.Sprintf("packet-%d", i))
		if err := os.WriteFile(path, v5Packet(2, 0), 0o644); err != nil {
			t.Fatalf("WriteFile() error:\n%+v", err)
		}
		paths = append(paths, path)
	}

	r := reporter.NewMock(t)
	config := testConfiguration()
	config.Inputs = []InputConfiguration{{
		Config: &file.Configuration{
			Paths:      paths,
			Exporter:   testExporter,
			MaxPackets: 3,
		},
	}}
	sink := NewMockSink(10)
	NewMock(t, r, config, Dependencies{Sink: sink})

	for range 3 {
		batch := receiveBatch(t, sink.Batches)
		if batch.Exporter != decoder.ExporterIDFromAddr(testExporter) {
			t.Errorf("batch exporter == %s, expected %s", batch.Exporter, testExporter)
		}
		if batch.Version != decoder.VersionV5 {
			t.Errorf("batch version == %d, expected 5", batch.Version)
		}
		if batch.Len() != 2 {
			t.Errorf("batch length == %d, expected 2", batch.Len())
		}
	}

	expectedMetrics := map[string]string{
		`received_packets_total{exporter="192.0.2.1"}`: "3",
		`sink_batches_total{result="ok"}`:             "3",
		`sink_flows_total{exporter="192.0.2.1"}`:      "6",
	}
	var gotMetrics map[string]string
	for range 50 {
		gotMetrics = r.GetMetrics("cnetflow_inlet_flow_", "received_", "sink_")
		if helpers.Diff(gotMetrics, expectedMetrics) == "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestDropOnFullQueue(t *testing.T) {
	r := reporter.NewMock(t)
	config := testConfiguration()
	config.QueueSize = 2
	sink := newBlockingSink()
	c := NewMock(t, r, config, Dependencies{Sink: sink})

	packet := v5Packet(1, 0)
	c.Send(testExporter, packet, time.Now())
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("first packet not handed to the sink")
	}
	// The worker is blocked. Two packets fill the queue, the last one is dropped.
	for range 3 {
		c.Send(testExporter, packet, time.Now())
	}
	close(sink.release)
	for range 3 {
		receiveBatch(t, sink.batches)
	}

	gotMetrics := r.GetMetrics("cnetflow_inlet_flow_", "received_", "dropped_")
	expectedMetrics := map[string]string{
		`received_packets_total{exporter="192.0.2.1"}`:                    "4",
		`dropped_packets_total{exporter="192.0.2.1",reason="queue full"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestDrainOnStop(t *testing.T) {
	r := reporter.NewMock(t)
	config := testConfiguration()
	config.Inputs = []InputConfiguration{{
		Config: &file.Configuration{
			Paths:      []string{"/dev/null"},
			Exporter:   testExporter,
			MaxPackets: 1,
		},
	}}
	sink := newBlockingSink()
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t), Sink: sink})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}

	packet := v5Packet(3, 0)
	for range 3 {
		c.Send(testExporter, packet, time.Now())
	}
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("first packet not handed to the sink")
	}

	stopped := make(chan error)
	go func() {
		stopped <- c.Stop()
	}()
	select {
	case <-stopped:
		t.Fatal("Stop() returned while packets are still queued")
	case <-time.After(50 * time.Millisecond):
	}
	close(sink.release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error:\n%+v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}
	if got := len(sink.batches); got != 3 {
		t.Fatalf("sink received %d batches, expected 3", got)
	}

	// Packets received after stop are dropped.
	c.Send(testExporter, packet, time.Now())
	gotMetrics := r.GetMetrics("cnetflow_inlet_flow_", "dropped_")
	expectedMetrics := map[string]string{
		`dropped_packets_total{exporter="192.0.2.1",reason="stopped"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestRateLimit(t *testing.T) {
	r := reporter.NewMock(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	config := testConfiguration()
	config.RateLimit = 100
	sink := NewMockSink(100)
	c := NewMock(t, r, config, Dependencies{Sink: sink, Clock: clk})

	packet := v5Packet(1, 0)
	for range 20 {
		c.Send(testExporter, packet, time.Now())
	}
	for range 10 {
		batch := receiveBatch(t, sink.Batches)
		if batch.SamplingInterval != 0 {
			t.Fatalf("batch sampling interval == %d, expected 0", batch.SamplingInterval)
		}
	}
	gotMetrics := r.GetMetrics("cnetflow_inlet_flow_", "dropped_")
	expectedMetrics := map[string]string{
		`dropped_packets_total{exporter="192.0.2.1",reason="rate limit"}`: "10",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}

	// Half of the packets were dropped during the last tick: sampling
	// of accepted packets is doubled.
	clk.Add(200 * time.Millisecond)
	c.Send(testExporter, packet, time.Now())
	batch := receiveBatch(t, sink.Batches)
	if batch.SamplingInterval != 2 {
		t.Fatalf("batch sampling interval == %d, expected 2", batch.SamplingInterval)
	}
}

func TestAdjustSampling(t *testing.T) {
	cases := []struct {
		interval uint16
		factor   float64
		expected uint16
	}{
		{0, 1, 0},
		{0, 2, 2},
		{100, 1.5, 150},
		{1000, 100, 65535},
	}
	for _, tc := range cases {
		batch := decoder.NewFlowBatch(1, decoder.VersionV9, 1)
		batch.SamplingInterval = tc.interval
		adjustSampling(batch, tc.factor)
		if batch.SamplingInterval != tc.expected {
			t.Errorf("adjustSampling(%d, %f) == %d, expected %d",
				tc.interval, tc.factor, batch.SamplingInterval, tc.expected)
		}
	}
}

func TestMalformedPacket(t *testing.T) {
	r := reporter.NewMock(t)
	sink := NewMockSink(10)
	c := NewMock(t, r, testConfiguration(), Dependencies{Sink: sink})

	c.Send(testExporter, []byte{0, 5, 0, 1}, time.Now())
	c.Send(testExporter, nil, time.Now())
	c.Send(testExporter, v5Packet(1, 0), time.Now())

	// Only the valid packet makes it to the sink.
	receiveBatch(t, sink.Batches)
	select {
	case batch := <-sink.Batches:
		t.Fatalf("unexpected batch received: %+v", batch)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	r := reporter.NewMock(t)
	h := httpserver.NewMock(t, r)
	c := NewMock(t, r, testConfiguration(), Dependencies{HTTP: h})

	c.Send(testExporter, v9TemplatePacket(templates.Template{
		ID: 256,
		Fields: []templates.Field{
			{Type: 8, Length: 4},
			{Type: 12, Length: 4},
		},
	}), time.Now())
	for range 100 {
		if len(c.v9.Templates()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	helpers.TestHTTPEndpoints(t, h.LocalAddr(), helpers.HTTPEndpointCases{
		{
			URL: "/api/v0/inlet/templates",
			JSONOutput: gin.H{
				"v9": []gin.H{{
					"exporter":    "192.0.2.1",
					"template_id": 256,
					"fields": []gin.H{
						{"type": 8, "length": 4},
						{"type": 12, "length": 4},
					},
				}},
				"ipfix": []gin.H{},
			},
		}, {
			URL: "/api/v0/inlet/templates?exporter=192.0.2.1",
			JSONOutput: gin.H{
				"v9": []gin.H{{
					"exporter":    "192.0.2.1",
					"template_id": 256,
					"fields": []gin.H{
						{"type": 8, "length": 4},
						{"type": 12, "length": 4},
					},
				}},
				"ipfix": []gin.H{},
			},
		}, {
			URL:        "/api/v0/inlet/templates?exporter=192.0.2.99",
			JSONOutput: gin.H{"v9": []gin.H{}, "ipfix": []gin.H{}},
		}, {
			URL:        "/api/v0/inlet/templates?exporter=nope",
			StatusCode: 400,
			JSONOutput: gin.H{"message": "invalid exporter address"},
		},
	})
}

func TestNewErrors(t *testing.T) {
	r := reporter.NewMock(t)
	config := testConfiguration()
	if _, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t), Sink: NewMockSink(1)}); err == nil {
		t.Error("New() without input did not error")
	}
	config = DefaultConfiguration()
	if _, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)}); err == nil {
		t.Error("New() without sink did not error")
	}
}

func TestHealthcheck(t *testing.T) {
	r := reporter.NewMock(t)
	config := testConfiguration()
	config.Workers = 2
	NewMock(t, r, config, Dependencies{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := r.RunHealthchecks(ctx)
	if got.Status != reporter.HealthcheckOK {
		t.Fatalf("RunHealthchecks() == %+v, expected OK", got)
	}
	if result, ok := got.Details["flow"]; !ok || result.Status != reporter.HealthcheckOK {
		t.Fatalf("RunHealthchecks() flow result == %+v", result)
	}
}
