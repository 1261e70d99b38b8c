// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

type publishedMessage struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	published  []publishedMessage
	publishErr error
	flushes    int
	drained    bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, publishedMessage{subject, data})
	return nil
}

func (p *fakePublisher) FlushWithContext(context.Context) error {
	p.flushes++
	return nil
}

func (p *fakePublisher) Drain() error {
	p.drained = true
	return nil
}

func newFakeBackend(t *testing.T, config *Configuration) (*reporter.Reporter, *Backend, *fakePublisher) {
	t.Helper()
	r := reporter.NewMock(t)
	b, err := config.New(r, backend.Dependencies{})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	nb := b.(*Backend)
	fake := &fakePublisher{}
	nb.connect = func() (publisher, error) { return fake, nil }
	helpers.StartStop(t, nb)
	return r, nb, fake
}

func testBatch() *decoder.FlowBatch {
	batch := decoder.NewFlowBatch(decoder.ExporterIDFromAddr(netip.MustParseAddr("192.0.2.1")),
		decoder.VersionIPFIX, 10)
	batch.Append(decoder.FlowRecord{
		SrcAddr: netip.MustParseAddr("2001:db8::1"),
		DstAddr: netip.MustParseAddr("2001:db8::2"),
		Proto:   17,
		Packets: 1,
		Octets:  120,
	})
	return batch
}

func TestInsertFlows(t *testing.T) {
	r, b, fake := newFakeBackend(t, DefaultConfiguration().(*Configuration))
	if err := b.InsertFlows(context.Background(), testBatch()); err != nil {
		t.Fatalf("InsertFlows() error:\n%+v", err)
	}
	if len(fake.published) != 1 {
		t.Fatalf("Publish() called %d times, expected 1", len(fake.published))
	}
	if got := fake.published[0].subject; got != "cnetflow.flows.192.0.2.1" {
		t.Errorf("Publish() subject == %q", got)
	}
	var got decoder.FlowBatch
	if err := json.Unmarshal(fake.published[0].data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error:\n%+v", err)
	}
	if diff := helpers.Diff(got.Records, testBatch().Records); diff != "" {
		t.Errorf("Publish() records (-got, +want):\n%s", diff)
	}
	if fake.flushes != 1 {
		t.Errorf("FlushWithContext() called %d times, expected 1", fake.flushes)
	}

	gotMetrics := r.GetMetrics("cnetflow_inlet_sink_backend_nats_", "sent_messages_total")
	expectedMetrics := map[string]string{
		`sent_messages_total{exporter="192.0.2.1"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestInsertFlowsNoFlush(t *testing.T) {
	config := DefaultConfiguration().(*Configuration)
	config.Flush = false
	_, b, fake := newFakeBackend(t, config)
	if err := b.InsertFlows(context.Background(), testBatch()); err != nil {
		t.Fatalf("InsertFlows() error:\n%+v", err)
	}
	if fake.flushes != 0 {
		t.Errorf("FlushWithContext() called %d times, expected 0", fake.flushes)
	}
}

func TestInsertFlowsError(t *testing.T) {
	_, b, fake := newFakeBackend(t, DefaultConfiguration().(*Configuration))
	fake.publishErr = nats.ErrConnectionClosed
	if err := b.InsertFlows(context.Background(), testBatch()); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("InsertFlows() error == %v, expected %v", err, nats.ErrConnectionClosed)
	}
}

func TestConnectFailure(t *testing.T) {
	r := reporter.NewMock(t)
	config := DefaultConfiguration().(*Configuration)
	config.ConnectTimeout = 300 * time.Millisecond
	b, err := config.New(r, backend.Dependencies{})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	attempts := 0
	b.(*Backend).connect = func() (publisher, error) {
		attempts++
		return nil, nats.ErrNoServers
	}
	if err := b.Start(); !errors.Is(err, nats.ErrNoServers) {
		t.Fatalf("Start() error == %v, expected %v", err, nats.ErrNoServers)
	}
	if attempts < 2 {
		t.Errorf("connect() called %d times, expected retries", attempts)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
}

func TestInvalidTLS(t *testing.T) {
	r := reporter.NewMock(t)
	config := DefaultConfiguration().(*Configuration)
	config.TLS.Enable = true
	config.TLS.CAFile = "/nonexistent/ca.pem"
	if _, err := config.New(r, backend.Dependencies{}); err == nil {
		t.Fatal("New() did not error")
	}
}

func TestRealNATS(t *testing.T) {
	server := helpers.CheckExternalService(t, "NATS", []string{"nats:4222", "127.0.0.1:4222"})
	url := fmt.Sprintf("nats://%s", server)

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("Connect() error:\n%+v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 10)
	subscription, err := sub.ChanSubscribe("cnetflow-test.>", msgs)
	if err != nil {
		t.Fatalf("ChanSubscribe() error:\n%+v", err)
	}
	defer subscription.Unsubscribe()
	sub.Flush()

	r := reporter.NewMock(t)
	config := DefaultConfiguration().(*Configuration)
	config.URL = url
	config.Subject = "cnetflow-test"
	b, err := config.New(r, backend.Dependencies{})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, b)
	if err := b.InsertFlows(context.Background(), testBatch()); err != nil {
		t.Fatalf("InsertFlows() error:\n%+v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Subject != "cnetflow-test.192.0.2.1" {
			t.Errorf("received message on %q", msg.Subject)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
