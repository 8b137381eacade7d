// Copyright 2024 The libdb Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package exec

import (
	"context"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/accessor"
	"github.com/wotjr1649/libdb/internal/intercept"
	"github.com/wotjr1649/libdb/internal/tvp"
	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// stageTable is the session-scoped staging table used by bulk update
// and delete. It is dropped explicitly because pooled connections
// outlive the operation.
const stageTable = "#libdb_stage"

// BulkInsert copies rows into the destination table through the
// driver's bulk-copy path.
func BulkInsert[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows []T, opts types.Options,
) error {
	if opts.DryRun || len(rows) == 0 {
		return nil
	}
	acc, err := accessor.For[T](ex.registry)
	if err != nil {
		return err
	}
	reader, err := tvp.NewReader(acc, rows)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	req := types.Request{Instance: instance, Command: table, CommandType: types.TableDirect}
	cc := &intercept.CommandContext{Instance: instance, Command: "BULK INSERT " + table}
	start := time.Now()
	err = ex.strategy.Execute(ctx, req, opts, func(ctx context.Context, q types.TargetQuerier) error {
		_, err := ex.chain.Run(ctx, cc, func(ctx context.Context) (any, error) {
			return nil, copyIn(ctx, q, ident.ParseObjectName(table).Quoted(), reader)
		})
		return err
	})
	if err != nil {
		return err
	}
	bulkRowsTotal.WithLabelValues(instance.Raw(), "insert").Add(float64(len(rows)))
	bulkDurations.WithLabelValues(instance.Raw(), "insert").
		Observe(time.Since(start).Seconds())
	return nil
}

// BulkUpdate stages the rows into a temp table via bulk copy, then
// applies a set-based MERGE keyed on the caller's primary-key set,
// updating only the listed columns.
func BulkUpdate[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows []T, keys, columns []string, opts types.Options,
) error {
	if opts.DryRun || len(rows) == 0 {
		return nil
	}
	if len(keys) == 0 {
		return errors.New("bulk update requires a primary-key column set")
	}
	if len(columns) == 0 {
		return errors.New("bulk update requires an update column set")
	}
	return bulkStaged(ctx, ex, instance, table, rows, keys, "update",
		func(target string) string {
			var b strings.Builder
			b.WriteString("MERGE INTO ")
			b.WriteString(target)
			b.WriteString(" AS t USING ")
			b.WriteString(stageTable)
			b.WriteString(" AS s ON ")
			writeKeyJoin(&b, keys)
			b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
			for i, col := range columns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString("t.[" + col + "] = s.[" + col + "]")
			}
			b.WriteString(";")
			return b.String()
		}, opts)
}

// BulkDelete stages the rows' keys into a temp table, then deletes
// the matching target rows with one set-based join.
func BulkDelete[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows []T, keys []string, opts types.Options,
) error {
	if opts.DryRun || len(rows) == 0 {
		return nil
	}
	if len(keys) == 0 {
		return errors.New("bulk delete requires a primary-key column set")
	}
	return bulkStaged(ctx, ex, instance, table, rows, keys, "delete",
		func(target string) string {
			var b strings.Builder
			b.WriteString("DELETE t FROM ")
			b.WriteString(target)
			b.WriteString(" AS t INNER JOIN ")
			b.WriteString(stageTable)
			b.WriteString(" AS s ON ")
			writeKeyJoin(&b, keys)
			b.WriteString(";")
			return b.String()
		}, opts)
}

func writeKeyJoin(b *strings.Builder, keys []string) {
	for i, key := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.[" + key + "] = s.[" + key + "]")
	}
}

// bulkStaged owns the stage-copy-apply sequence shared by update and
// delete.
func bulkStaged[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows []T, keys []string, kind string,
	statement func(target string) string, opts types.Options,
) error {
	acc, err := accessor.For[T](ex.registry)
	if err != nil {
		return err
	}
	keyOrdinals := make([]int, len(keys))
	for i, key := range keys {
		ord, ok := acc.Ordinal(key)
		if !ok {
			return errors.Errorf("key column %q is not a column of %s", key, acc.RowType)
		}
		keyOrdinals[i] = ord
	}
	// A staged MERGE rejects duplicate source keys; last one wins.
	rows = uniqueByKey(rows, acc, keyOrdinals)

	reader, err := tvp.NewReader(acc, rows)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	target := ident.ParseObjectName(table).Quoted()
	var colList strings.Builder
	for i := range acc.Props {
		if i > 0 {
			colList.WriteString(", ")
		}
		colList.WriteString("[" + acc.Props[i].Name + "]")
	}

	req := types.Request{Instance: instance, Command: table, CommandType: types.TableDirect}
	cc := &intercept.CommandContext{Instance: instance, Command: statement(target)}
	start := time.Now()
	err = ex.strategy.Execute(ctx, req, opts, func(ctx context.Context, q types.TargetQuerier) error {
		_, err := ex.chain.Run(ctx, cc, func(ctx context.Context) (any, error) {
			if _, err := q.ExecContext(ctx,
				"SELECT TOP (0) "+colList.String()+" INTO "+stageTable+" FROM "+target+";"); err != nil {
				return nil, errors.Wrap(err, "could not create staging table")
			}
			defer func() {
				_, _ = q.ExecContext(ctx, "DROP TABLE IF EXISTS "+stageTable+";")
			}()
			if err := copyIn(ctx, q, stageTable, reader); err != nil {
				return nil, err
			}
			_, err := q.ExecContext(ctx, statement(target))
			return nil, errors.WithStack(err)
		})
		return err
	})
	if err != nil {
		return err
	}
	bulkRowsTotal.WithLabelValues(instance.Raw(), kind).Add(float64(len(rows)))
	bulkDurations.WithLabelValues(instance.Raw(), kind).
		Observe(time.Since(start).Seconds())
	return nil
}

// copyIn drives the driver's bulk-copy protocol from a row reader.
func copyIn(ctx context.Context, q types.TargetQuerier, table string, reader types.RowReader) error {
	// A retried attempt replays the rows from the start.
	if r, ok := reader.(interface{ Reset() }); ok {
		r.Reset()
	}
	stmt, err := q.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, reader.Columns()...))
	if err != nil {
		return errors.Wrap(err, "could not prepare bulk copy")
	}
	defer func() { _ = stmt.Close() }()

	for reader.Next() {
		values, err := reader.Values()
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return errors.Wrap(err, "bulk copy row failed")
		}
	}
	// The final empty Exec flushes the copy.
	if _, err := stmt.ExecContext(ctx); err != nil {
		return errors.Wrap(err, "bulk copy flush failed")
	}
	return nil
}
