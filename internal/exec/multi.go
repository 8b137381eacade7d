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
	"database/sql"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
)

// A MultiReader walks a command's multiple result sets. It owns the
// underlying stream (and so the connection) until closed.
type MultiReader struct {
	ex     *Executor
	stream *Stream
	// sentinel marks a dry-run reader that never touched the
	// driver: every result set reads as empty.
	sentinel bool
	closed   bool
}

// QueryMultiple runs the request and returns a reader over its
// result sets. With Options.DryRun set, a sentinel reader with an
// empty grid is returned and the driver is never touched.
func QueryMultiple(
	ctx context.Context, ex *Executor, req types.Request, opts types.Options,
) (*MultiReader, error) {
	if opts.DryRun {
		return &MultiReader{ex: ex, sentinel: true}, nil
	}
	cmd, err := ex.buildCommand(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	stream, err := ex.strategy.ExecuteStream(ctx, req, opts,
		func(ctx context.Context, q types.TargetQuerier) (*sql.Rows, error) {
			rows, err := q.QueryContext(ctx, cmd.text, cmd.args...)
			return rows, errors.WithStack(err)
		})
	if err != nil {
		return nil, err
	}
	return &MultiReader{ex: ex, stream: stream}, nil
}

// Read maps every row of the current result set.
func Read[R any](mr *MultiReader) ([]R, error) {
	if mr.sentinel || mr.closed {
		return nil, nil
	}
	rows := mr.stream.Rows
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	scan, err := scannerFor[R](mr.ex.registry, cols)
	if err != nil {
		return nil, err
	}
	var ret []R
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, row)
	}
	return ret, errors.WithStack(rows.Err())
}

// ReadSingle maps the first row of the current result set.
func ReadSingle[R any](mr *MultiReader) (R, bool, error) {
	var zero R
	if mr.sentinel || mr.closed {
		return zero, false, nil
	}
	rows := mr.stream.Rows
	if !rows.Next() {
		return zero, false, errors.WithStack(rows.Err())
	}
	cols, err := rows.Columns()
	if err != nil {
		return zero, false, errors.WithStack(err)
	}
	scan, err := scannerFor[R](mr.ex.registry, cols)
	if err != nil {
		return zero, false, err
	}
	row, err := scan(rows)
	if err != nil {
		return zero, false, err
	}
	// Drain the remainder so NextResult can advance.
	for rows.Next() {
	}
	return row, true, errors.WithStack(rows.Err())
}

// NextResult advances to the next result set.
func (mr *MultiReader) NextResult() bool {
	if mr.sentinel || mr.closed {
		return false
	}
	return mr.stream.Rows.NextResultSet()
}

// Close releases the stream and its connection. Safe to call more
// than once.
func (mr *MultiReader) Close() error {
	if mr.sentinel || mr.closed {
		mr.closed = true
		return nil
	}
	mr.closed = true
	return mr.stream.Close()
}
