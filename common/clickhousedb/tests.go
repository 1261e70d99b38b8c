// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package clickhousedb

import (
	"testing"
	"time"

	"cnetflow/common/daemon"
	"cnetflow/common/helpers"
	"cnetflow/common/reporter"
)

// SetupClickHouse configures a client to use for testing.
func SetupClickHouse(t *testing.T, r *reporter.Reporter) *Component {
	t.Helper()
	chServer := helpers.CheckExternalService(t, "ClickHouse",
		[]string{"clickhouse:9000", "127.0.0.1:9000"})
	config := DefaultConfiguration()
	config.Servers = []string{chServer}
	config.DialTimeout = 100 * time.Millisecond
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, c)
	return c
}
