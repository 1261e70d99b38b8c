// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package flow

import (
	"context"
	"testing"

	"cnetflow/common/daemon"
	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/input/udp"
	"cnetflow/inlet/sink"
)

// MockSink is a sink pushing received batches to a channel.
type MockSink struct {
	Batches chan *decoder.FlowBatch
}

// NewMockSink creates a new mock sink able to hold size batches before
// blocking.
func NewMockSink(size int) *MockSink {
	return &MockSink{
		Batches: make(chan *decoder.FlowBatch, size),
	}
}

var _ sink.Sink = &MockSink{}

// InsertFlows pushes the batch to the channel.
func (s *MockSink) InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error {
	select {
	case s.Batches <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewMock creates a new flow component listening on a random UDP
// port. It is autostarted.
func NewMock(t *testing.T, r *reporter.Reporter, config Configuration, dependencies Dependencies) *Component {
	t.Helper()
	if config.Inputs == nil {
		udpConfig := udp.DefaultConfiguration().(*udp.Configuration)
		udpConfig.Listen = "127.0.0.1:0"
		config.Inputs = []InputConfiguration{{Config: udpConfig}}
	}
	if dependencies.Daemon == nil {
		dependencies.Daemon = daemon.NewMock(t)
	}
	if dependencies.Sink == nil {
		dependencies.Sink = NewMockSink(1000)
	}
	c, err := New(r, config, dependencies)
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, c)
	return c
}
