// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package clickhouse

import (
	"time"

	"cnetflow/common/clickhousedb"
	"cnetflow/inlet/sink/backend"
)

// Configuration describes the configuration of the ClickHouse backend.
type Configuration struct {
	// ClickHouse is the connection to the ClickHouse database.
	ClickHouse clickhousedb.Configuration
	// DSN is a compact connection string
	// (host:port:database:user:password). When set, it overrides the
	// servers, database and credentials of the ClickHouse connection.
	DSN string
	// Table is the table receiving flows.
	Table string `validate:"required"`
	// CreateTable creates the table on start when missing.
	CreateTable bool
	// TTL is the retention of flows when creating the table. 0
	// means forever.
	TTL time.Duration `validate:"isdefault|min=1h"`
}

// DefaultConfiguration returns the default configuration of the ClickHouse backend.
func DefaultConfiguration() backend.Configuration {
	return &Configuration{
		ClickHouse:  clickhousedb.DefaultConfiguration(),
		Table:       "flows",
		CreateTable: true,
		TTL:         7 * 24 * time.Hour,
	}
}
