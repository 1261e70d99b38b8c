// SPDX-FileCopyrightText: 2024 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package clickhousedb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ExecOnCluster executes a query, on the whole cluster when one is
// configured.
func (c *Component) ExecOnCluster(ctx context.Context, query string, args ...any) error {
	if c.config.Cluster != "" {
		query = TransformQueryOnCluster(query, c.config.Cluster)
	}
	return c.Exec(ctx, query, args...)
}

var (
	spacesRegexp = regexp.MustCompile(`\s+`)
	// Statements on tables accepting an ON CLUSTER clause right after the
	// table identifier. Identifiers are simplified to \S+.
	onClusterRegexp = regexp.MustCompile(`^(?i)(` + strings.Join([]string{
		`ALTER TABLE \S+`,
		`(CREATE( OR REPLACE)?|REPLACE)( TEMPORARY)? TABLE( IF NOT EXISTS)? \S+`,
		`(DETACH|DROP)( TEMPORARY)? TABLE( IF EXISTS)? \S+`,
		`OPTIMIZE TABLE \S+`,
		`TRUNCATE( TEMPORARY)?( TABLE)?( IF EXISTS)? \S+`,
	}, "|") + `)`)
)

// TransformQueryOnCluster adds the ON CLUSTER clause to a table statement.
// Other queries are only normalized (spaces collapsed).
func TransformQueryOnCluster(query string, cluster string) string {
	query = strings.TrimSpace(spacesRegexp.ReplaceAllString(query, " "))
	prefix := onClusterRegexp.FindString(query)
	if prefix == "" {
		return query
	}
	return fmt.Sprintf("%s ON CLUSTER %s%s", prefix, cluster, query[len(prefix):])
}

// InsertRows inserts rows into a table using a single batch.
func (c *Component) InsertRows(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("cannot prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("cannot append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("cannot send batch: %w", err)
	}
	return nil
}
