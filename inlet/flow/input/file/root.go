// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package file replays export packets stored in files (for testing)
package file

import (
	"errors"
	"os"
	"time"

	"gopkg.in/tomb.v2"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/input"
)

// Input represents the state of a file input.
type Input struct {
	r      *reporter.Reporter
	t      tomb.Tomb
	config *Configuration
	send   input.SendFunc
}

var (
	_ input.Input         = &Input{}
	_ input.Configuration = &Configuration{}
)

// New instantiate a new file input from the provided configuration.
func (configuration *Configuration) New(r *reporter.Reporter, daemon daemon.Component, send input.SendFunc) (input.Input, error) {
	if len(configuration.Paths) == 0 {
		return nil, errors.New("no paths provided for file input")
	}
	input := &Input{
		r:      r,
		config: configuration,
		send:   send,
	}
	daemon.Track(&input.t, "inlet/flow/input/file")
	return input, nil
}

// Start starts streaming files to produce export packets in a loop.
func (in *Input) Start() error {
	in.r.Info().Msg("file input starting")
	in.t.Go(func() error {
		count := uint(0)
		payload := make([]byte, 65535)
		for idx := 0; true; idx++ {
			if in.config.MaxPackets > 0 && count >= in.config.MaxPackets {
				<-in.t.Dying()
				return nil
			}

			path := in.config.Paths[idx%len(in.config.Paths)]
			data, err := os.ReadFile(path)
			if err != nil {
				in.r.Err(err).Str("path", path).Msg("unable to read path")
				return err
			}

			// Mimic the way it works with UDP
			n := copy(payload, data)
			in.send(in.config.Exporter, payload[:n], time.Now())
			count++
			select {
			case <-in.t.Dying():
				return nil
			default:
			}
		}
		return nil
	})
	return nil
}

// Stop stops the file input
func (in *Input) Stop() error {
	defer in.r.Info().Msg("file input stopped")
	in.t.Kill(nil)
	return in.t.Wait()
}
