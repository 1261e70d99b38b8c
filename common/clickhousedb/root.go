// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package clickhousedb wraps a pool of connections to a ClickHouse
// database used by the ClickHouse sink backend.
package clickhousedb

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"gopkg.in/tomb.v2"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
)

// Component is a ClickHouse connection pool. It embeds the driver
// connection.
type Component struct {
	r      *reporter.Reporter
	t      tomb.Tomb
	d      *Dependencies
	config Configuration

	healthy chan reporter.ChannelHealthcheckFunc
	clickhouse.Conn
}

// Dependencies define the dependencies of the ClickHouse component.
type Dependencies struct {
	Daemon daemon.Component
}

// options turns the configuration into options for the driver.
func (config Configuration) options() (*clickhouse.Options, error) {
	tlsConfig, err := config.TLS.MakeTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot setup TLS for ClickHouse: %w", err)
	}
	return &clickhouse.Options{
		Addr: config.Servers,
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		TLS:             tlsConfig,
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:     config.DialTimeout,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxOpenConns/2 + 1,
		ConnMaxLifetime: time.Hour,
	}, nil
}

// New opens a connection pool to ClickHouse. No connection is
// attempted until the first query.
func New(r *reporter.Reporter, config Configuration, dependencies Dependencies) (*Component, error) {
	options, err := config.options()
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("cannot open ClickHouse connection: %w", err)
	}
	c := Component{
		r:       r,
		d:       &dependencies,
		config:  config,
		healthy: make(chan reporter.ChannelHealthcheckFunc),
		Conn:    conn,
	}
	c.d.Daemon.Track(&c.t, "common/clickhousedb")
	return &c, nil
}

// Start registers the healthcheck for the database.
func (c *Component) Start() error {
	c.r.Info().Strs("servers", c.config.Servers).Msg("starting ClickHouse component")
	c.r.RegisterHealthcheck("clickhousedb", reporter.ChannelHealthcheck(c.t.Context(nil), c.healthy))
	c.t.Go(func() error {
		for {
			select {
			case <-c.t.Dying():
				return nil
			case report := <-c.healthy:
				if err := c.ping(); err != nil {
					report(reporter.HealthcheckWarning, "database unavailable")
				} else {
					report(reporter.HealthcheckOK, "database available")
				}
			}
		}
	})
	return nil
}

// ping checks the database answers a trivial query.
func (c *Component) ping() error {
	ctx, cancel := context.WithTimeout(c.t.Context(nil), time.Second)
	defer cancel()
	rows, err := c.Query(ctx, "SELECT 1")
	if err != nil {
		return err
	}
	return rows.Close()
}

// Stop closes the connection pool.
func (c *Component) Stop() error {
	c.r.Info().Msg("stopping ClickHouse component")
	c.t.Kill(nil)
	err := c.t.Wait()
	if closeErr := c.Close(); closeErr != nil {
		c.r.Err(closeErr).Msg("cannot close ClickHouse connection")
	}
	c.r.Info().Msg("ClickHouse component stopped")
	return err
}
