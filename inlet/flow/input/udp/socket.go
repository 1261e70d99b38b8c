// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package udp

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"cnetflow/common/reporter"
)

type oobMessage struct {
	Drops    uint32
	Received time.Time
}

type socketOption struct {
	Name      string
	Level     int
	Option    int
	Mandatory bool
}

// listenConfig configures a listening socket with the provided
// options. Failures of non-mandatory options are only logged.
func listenConfig(r *reporter.Reporter, options []socketOption) *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var err error
			cerr := c.Control(func(fd uintptr) {
				for _, opt := range options {
					if serr := unix.SetsockoptInt(int(fd), opt.Level, opt.Option, 1); serr != nil {
						if opt.Mandatory {
							err = serr
							return
						}
						r.Warn().Err(serr).Str("option", opt.Name).Msg("cannot set socket option")
					}
				}
			})
			if cerr != nil {
				return cerr
			}
			return err
		},
	}
}
