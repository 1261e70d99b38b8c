// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package clickhouse is a sink backend persisting flows into ClickHouse.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"cnetflow/common/clickhousedb"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

// conn is the subset of the ClickHouse component used by the backend.
type conn interface {
	Start() error
	Stop() error
	ExecOnCluster(ctx context.Context, query string, args ...any) error
	InsertRows(ctx context.Context, query string, rows [][]any) error
}

// Backend persists flows into a ClickHouse table.
type Backend struct {
	r      *reporter.Reporter
	config *Configuration
	conn   conn
}

// New creates a new ClickHouse backend.
func (configuration *Configuration) New(r *reporter.Reporter, dependencies backend.Dependencies) (backend.Backend, error) {
	chConfig := configuration.ClickHouse
	if configuration.DSN != "" {
		if err := chConfig.ParseDSN(configuration.DSN); err != nil {
			return nil, err
		}
	}
	ch, err := clickhousedb.New(r, chConfig, clickhousedb.Dependencies{
		Daemon: dependencies.Daemon,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to ClickHouse: %w", err)
	}
	return &Backend{
		r:      r,
		config: configuration,
		conn:   ch,
	}, nil
}

// createTableQuery returns the query creating the flows table.
func (b *Backend) createTableQuery() string {
	ttl := ""
	if b.config.TTL > 0 {
		ttl = fmt.Sprintf(" TTL first + toIntervalSecond(%d)", int64(b.config.TTL.Seconds()))
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    inserted_at DateTime DEFAULT now(),
    exporter String,
    srcaddr String,
    dstaddr String,
    nexthop String,
    srcport UInt16,
    dstport UInt16,
    protocol UInt8,
    input UInt32,
    output UInt32,
    dpkts UInt64,
    doctets UInt64,
    first DateTime,
    last DateTime,
    tcp_flags UInt8,
    tos UInt8,
    src_as UInt32,
    dst_as UInt32,
    src_mask UInt8,
    dst_mask UInt8,
    ip_version UInt8,
    sampling_interval UInt16
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(first)
ORDER BY (exporter, first, srcaddr, dstaddr, srcport, dstport, protocol)%s`, b.config.Table, ttl)
}

// Start connects to ClickHouse and creates the table if needed.
func (b *Backend) Start() error {
	if err := b.conn.Start(); err != nil {
		return err
	}
	if !b.config.CreateTable {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.conn.ExecOnCluster(ctx, b.createTableQuery()); err != nil {
		return fmt.Errorf("cannot create table %s: %w", b.config.Table, err)
	}
	b.r.Info().Str("table", b.config.Table).Msg("flows table ready")
	return nil
}

// Stop disconnects from ClickHouse.
func (b *Backend) Stop() error {
	return b.conn.Stop()
}

// rows converts a batch into rows matching the table layout.
func rows(batch *decoder.FlowBatch) [][]any {
	exporter := batch.Exporter.String()
	result := make([][]any, 0, batch.Len())
	for _, flow := range batch.Records {
		result = append(result, []any{
			exporter,
			flow.SrcAddr.String(),
			flow.DstAddr.String(),
			flow.NextHop.String(),
			flow.SrcPort,
			flow.DstPort,
			flow.Proto,
			flow.InIf,
			flow.OutIf,
			flow.Packets,
			flow.Octets,
			time.Unix(int64(flow.First), 0),
			time.Unix(int64(flow.Last), 0),
			flow.TCPFlags,
			flow.TOS,
			flow.SrcAS,
			flow.DstAS,
			flow.SrcMask,
			flow.DstMask,
			flow.IPVersion,
			batch.SamplingInterval,
		})
	}
	return result
}

// InsertFlows inserts the flows of a batch.
func (b *Backend) InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error {
	query := fmt.Sprintf(`INSERT INTO %s (exporter, srcaddr, dstaddr, nexthop, srcport, dstport,
protocol, input, output, dpkts, doctets, first, last, tcp_flags, tos, src_as, dst_as,
src_mask, dst_mask, ip_version, sampling_interval)`, b.config.Table)
	return b.conn.InsertRows(ctx, query, rows(batch))
}
