// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"cnetflow/common/daemon"
	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
	"cnetflow/inlet/sink/backend/mocks"
)

// mockConfiguration is a backend configuration returning a prebuilt backend.
type mockConfiguration struct {
	backend backend.Backend
}

func (mc mockConfiguration) New(*reporter.Reporter, backend.Dependencies) (backend.Backend, error) {
	return mc.backend, nil
}

func newMockComponent(t *testing.T, configuration Configuration) (*reporter.Reporter, *Component, *mocks.MockBackend) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockBackend := mocks.NewMockBackend(ctrl)
	mockBackend.EXPECT().Start().Return(nil)
	mockBackend.EXPECT().Stop().Return(nil)
	configuration.Backend = BackendConfiguration{Config: mockConfiguration{mockBackend}}

	r := reporter.NewMock(t)
	c, err := New(r, configuration, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, c)
	return r, c, mockBackend
}

func testBatch() *decoder.FlowBatch {
	batch := decoder.NewFlowBatch(decoder.ExporterIDFromAddr(netip.MustParseAddr("192.0.2.10")),
		decoder.VersionV9, 4)
	batch.Append(decoder.FlowRecord{Octets: 100, Packets: 1})
	batch.Append(decoder.FlowRecord{Octets: 200, Packets: 2})
	return batch
}

func TestInsertFlows(t *testing.T) {
	r, c, mockBackend := newMockComponent(t, DefaultConfiguration())
	batch := testBatch()
	mockBackend.EXPECT().InsertFlows(gomock.Any(), batch).Return(nil)

	if err := c.InsertFlows(context.Background(), batch); err != nil {
		t.Fatalf("InsertFlows() error:\n%+v", err)
	}

	gotMetrics := r.GetMetrics("cnetflow_inlet_sink_", "batches_", "flows_")
	expectedMetrics := map[string]string{
		`batches_total{result="ok"}`: "1",
		`flows_total`:                "2",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}

	got := r.RunHealthchecks(context.Background())
	if got.Details["sink"].Status != reporter.HealthcheckOK {
		t.Fatalf("RunHealthchecks() == %+v", got.Details["sink"])
	}
}

func TestBreakerOpens(t *testing.T) {
	configuration := DefaultConfiguration()
	configuration.Breaker.ErrorThreshold = 2
	configuration.Breaker.Timeout = time.Minute
	r, c, mockBackend := newMockComponent(t, configuration)
	batch := testBatch()
	backendErr := errors.New("database is gone")
	mockBackend.EXPECT().InsertFlows(gomock.Any(), batch).Return(backendErr).Times(2)

	for range 2 {
		if err := c.InsertFlows(context.Background(), batch); !errors.Is(err, backendErr) {
			t.Fatalf("InsertFlows() error == %v, expected %v", err, backendErr)
		}
	}
	// The breaker is now open: the backend is not called anymore.
	if err := c.InsertFlows(context.Background(), batch); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("InsertFlows() error == %v, expected %v", err, ErrUnavailable)
	}

	gotMetrics := r.GetMetrics("cnetflow_inlet_sink_", "batches_", "breaker_")
	expectedMetrics := map[string]string{
		`batches_total{result="error"}`:    "2",
		`batches_total{result="rejected"}`: "1",
		`breaker_rejects_total`:            "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}

	got := r.RunHealthchecks(context.Background())
	if got.Details["sink"].Status != reporter.HealthcheckWarning {
		t.Fatalf("RunHealthchecks() == %+v", got.Details["sink"])
	}
}

func TestInsertTimeout(t *testing.T) {
	configuration := DefaultConfiguration()
	configuration.Timeout = 20 * time.Millisecond
	_, c, mockBackend := newMockComponent(t, configuration)
	batch := testBatch()
	mockBackend.EXPECT().InsertFlows(gomock.Any(), batch).
		DoAndReturn(func(ctx context.Context, _ *decoder.FlowBatch) error {
			<-ctx.Done()
			return ctx.Err()
		})

	start := time.Now()
	if err := c.InsertFlows(context.Background(), batch); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("InsertFlows() error == %v, expected %v", err, context.DeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("InsertFlows() took %s", elapsed)
	}
}

func TestNoBackend(t *testing.T) {
	configuration := DefaultConfiguration()
	configuration.Backend.Config = nil
	if _, err := New(reporter.NewMock(t), configuration, Dependencies{Daemon: daemon.NewMock(t)}); err == nil {
		t.Fatal("New() did not error")
	}
}

func TestStartFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := mocks.NewMockBackend(ctrl)
	mockBackend.EXPECT().Start().Return(errors.New("cannot connect"))
	configuration := DefaultConfiguration()
	configuration.Backend = BackendConfiguration{Config: mockConfiguration{mockBackend}}
	c, err := New(reporter.NewMock(t), configuration, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("Start() did not error")
	}
}
