// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package sql is a sink backend persisting flows into a SQL database
// (PostgreSQL, MySQL or SQLite).
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

// Backend persists flows with gorm.
type Backend struct {
	r      *reporter.Reporter
	config *Configuration

	db *gorm.DB
}

// New creates a new SQL backend. The database is not contacted until
// Start() is called.
func (configuration *Configuration) New(r *reporter.Reporter, _ backend.Dependencies) (backend.Backend, error) {
	switch configuration.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("%q is not a supported driver", configuration.Driver)
	}
	return &Backend{
		r:      r,
		config: configuration,
	}, nil
}

func (b *Backend) dialector() gorm.Dialector {
	switch b.config.Driver {
	case "postgres":
		return postgres.Open(b.config.DSN)
	case "mysql":
		return mysql.Open(b.config.DSN)
	default:
		return sqlite.Open(b.config.DSN)
	}
}

// Start connects to the database and migrates the flows table.
func (b *Backend) Start() error {
	b.r.Info().Str("driver", b.config.Driver).Msg("starting SQL backend")
	customBackoff := backoff.NewExponentialBackOff()
	customBackoff.InitialInterval = 100 * time.Millisecond
	customBackoff.MaxInterval = 5 * time.Second
	customBackoff.MaxElapsedTime = b.config.ConnectTimeout
	err := backoff.Retry(func() error {
		db, err := gorm.Open(b.dialector(), &gorm.Config{
			Logger:                 &logger{b.r},
			SkipDefaultTransaction: true,
		})
		if err != nil {
			b.r.Warn().Err(err).Msg("cannot connect to database, retrying")
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			b.r.Warn().Err(err).Msg("cannot reach database, retrying")
			return err
		}
		sqlDB.SetMaxOpenConns(b.config.MaxOpenConns)
		b.db = db
		return nil
	}, customBackoff)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	if err := b.db.Table(b.config.Table).AutoMigrate(&Flow{}); err != nil {
		return fmt.Errorf("cannot migrate database: %w", err)
	}
	return nil
}

// Stop closes the connection to the database.
func (b *Backend) Stop() error {
	defer b.r.Info().Msg("SQL backend stopped")
	if b.db != nil {
		sqlDB, err := b.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// InsertFlows inserts the flows of a batch.
func (b *Backend) InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error {
	flows := flowsFromBatch(batch)
	if len(flows) == 0 {
		return nil
	}
	return b.db.WithContext(ctx).
		Table(b.config.Table).
		CreateInBatches(flows, b.config.BatchSize).
		Error
}
