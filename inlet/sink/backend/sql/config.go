// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sql

import (
	"time"

	"cnetflow/inlet/sink/backend"
)

// Configuration describes the configuration of the SQL backend.
type Configuration struct {
	// Driver defines the driver for the database
	Driver string `validate:"oneof=postgres mysql sqlite"`
	// DSN defines the DSN to connect to the database
	DSN string `validate:"required"`
	// Table is the table receiving flows.
	Table string `validate:"required"`
	// BatchSize is the maximum number of rows per INSERT statement.
	BatchSize int `validate:"min=1"`
	// MaxOpenConns is the maximum number of connections to the database.
	MaxOpenConns int `validate:"min=1"`
	// ConnectTimeout is the maximum time to establish the first
	// connection to the database.
	ConnectTimeout time.Duration `validate:"min=100ms"`
}

// DefaultConfiguration represents the default configuration for the SQL backend.
func DefaultConfiguration() backend.Configuration {
	return &Configuration{
		Driver:         "sqlite",
		DSN:            "file::memory:?cache=shared",
		Table:          "flows",
		BatchSize:      500,
		MaxOpenConns:   4,
		ConnectTimeout: 30 * time.Second,
	}
}
