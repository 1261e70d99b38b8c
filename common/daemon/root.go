// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package daemon handles daemon-related operations for the collector:
// tracking component goroutines and exiting on signal or on the
// first component failure.
package daemon

import (
	"context"
	"os/signal"
	"syscall"

	"gopkg.in/tomb.v2"

	"cnetflow/common/reporter"
)

// Component is the interface the daemon component provides.
type Component interface {
	Start() error
	Stop() error
	Track(t *tomb.Tomb, who string)

	// Lifecycle
	Terminated() <-chan struct{}
	Terminate()
}

type tracked struct {
	tomb   *tomb.Tomb
	origin string
}

type realComponent struct {
	r       *reporter.Reporter
	tracked []tracked
	lifecycle
}

// New creates a new daemon component.
func New(r *reporter.Reporter) (Component, error) {
	return &realComponent{
		r:         r,
		lifecycle: newLifecycle(),
	}, nil
}

// Start watches tracked tombs and signals. The daemon terminates as soon as
// one tracked component dies or when SIGINT or SIGTERM is received.
func (c *realComponent) Start() error {
	for _, t := range c.tracked {
		go c.watch(t)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer stop()
		select {
		case <-ctx.Done():
			c.r.Info().Msg("signal received, quitting")
			c.Terminate()
		case <-c.Terminated():
		}
	}()
	return nil
}

func (c *realComponent) watch(t tracked) {
	<-t.tomb.Dying()
	if err := t.tomb.Err(); err != nil {
		c.r.Err(err).Str("component", t.origin).Msg("component error, quitting")
	} else {
		c.r.Debug().Str("component", t.origin).Msg("component shutting down, quitting")
	}
	c.Terminate()
}

// Stop requests termination.
func (c *realComponent) Stop() error {
	c.Terminate()
	return nil
}

// Track registers a tomb to watch. It should be called before Start().
func (c *realComponent) Track(t *tomb.Tomb, who string) {
	c.tracked = append(c.tracked, tracked{tomb: t, origin: who})
}
