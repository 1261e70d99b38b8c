// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"fmt"
	"slices"

	"cnetflow/common/daemon"
	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
)

type starter interface {
	Start() error
}
type stopper interface {
	Stop() error
}

// StartStopComponents starts the reporter, the daemon and the other
// components in order, waits for the daemon to terminate and stops
// them in reverse order. When a component fails to start, the ones
// already started are stopped.
func StartStopComponents(r *reporter.Reporter, daemonComponent daemon.Component, otherComponents []interface{}) error {
	components := append([]interface{}{r, daemonComponent}, otherComponents...)
	started := make([]interface{}, 0, len(components))
	defer func() {
		for _, component := range slices.Backward(started) {
			s, ok := component.(stopper)
			if !ok {
				continue
			}
			if err := s.Stop(); err != nil {
				r.Err(err).Msg("unable to stop component, ignoring")
			}
		}
	}()

	for _, component := range components {
		if s, ok := component.(starter); ok {
			if err := s.Start(); err != nil {
				return fmt.Errorf("unable to start component: %w", err)
			}
		}
		started = append(started, component)
	}
	r.Info().Str("version", helpers.CnetflowVersion).Msg("cnetflow has started")

	<-daemonComponent.Terminated()
	r.Info().Msg("stopping all components")
	return nil
}
