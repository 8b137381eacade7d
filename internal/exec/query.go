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
	"iter"
	"reflect"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/intercept"
	"github.com/wotjr1649/libdb/internal/types"
)

// Query runs the request and lazily yields mapped rows. The driver
// connection stays owned by the stream until iteration finishes or
// the caller breaks out.
func Query[R any](
	ctx context.Context, ex *Executor, req types.Request, opts types.Options,
) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		if opts.DryRun {
			return
		}
		start := time.Now()
		cmd, err := ex.buildCommand(ctx, req, opts)
		if err != nil {
			yield(zero, err)
			return
		}

		// The interceptor chain wraps each driver attempt, so
		// retried attempts observe every hook.
		cc := &intercept.CommandContext{Instance: req.Instance, Command: cmd.text}
		var mock any
		stream, err := ex.strategy.ExecuteStream(ctx, req, opts,
			func(ctx context.Context, q types.TargetQuerier) (*sql.Rows, error) {
				res, err := ex.chain.Run(ctx, cc, func(ctx context.Context) (any, error) {
					rows, err := q.QueryContext(ctx, cmd.text, cmd.args...)
					return rows, errors.WithStack(err)
				})
				if err != nil {
					return nil, err
				}
				if rows, ok := res.(*sql.Rows); ok {
					return rows, nil
				}
				mock = res
				return nil, nil
			})
		if err != nil {
			queryErrors.WithLabelValues(req.Instance.Raw()).Inc()
			yield(zero, err)
			return
		}
		defer func() { _ = stream.Close() }()

		if stream.Rows == nil {
			yieldMock[R](mock, yield)
			return
		}

		cols, err := stream.Rows.Columns()
		if err != nil {
			yield(zero, errors.WithStack(err))
			return
		}
		scan, err := scannerFor[R](ex.registry, cols)
		if err != nil {
			yield(zero, err)
			return
		}
		for stream.Rows.Next() {
			row, err := scan(stream.Rows)
			if !yield(row, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := stream.Rows.Err(); err != nil {
			yield(zero, errors.WithStack(err))
			return
		}
		queryDurations.WithLabelValues(req.Instance.Raw()).
			Observe(time.Since(start).Seconds())
	}
}

// yieldMock coerces an interceptor-supplied result into the row
// stream.
func yieldMock[R any](mock any, yield func(R, error) bool) {
	switch t := mock.(type) {
	case nil:
		return
	case []R:
		for _, row := range t {
			if !yield(row, nil) {
				return
			}
		}
	case R:
		yield(t, nil)
	default:
		var zero R
		yield(zero, errors.Errorf("mock result %T is not assignable to %T", mock, zero))
	}
}

// QuerySingle runs the request and returns the first row, if any.
func QuerySingle[R any](
	ctx context.Context, ex *Executor, req types.Request, opts types.Options,
) (R, bool, error) {
	var ret R
	for row, err := range Query[R](ctx, ex, req, opts) {
		return row, err == nil, err
	}
	return ret, false, nil
}

// ExecuteScalar runs the request and returns the first column of the
// first row. For a stored procedure that produces no result set, the
// procedure's return status is used instead.
func ExecuteScalar[S any](
	ctx context.Context, ex *Executor, req types.Request, opts types.Options,
) (S, bool, error) {
	var ret S
	if opts.DryRun {
		return ret, false, nil
	}
	cmd, err := ex.buildCommand(ctx, req, opts)
	if err != nil {
		return ret, false, err
	}

	var rs mssql.ReturnStatus
	args := cmd.args
	if req.CommandType == types.StoredProcedure {
		args = append(args, &rs)
	}

	cc := &intercept.CommandContext{Instance: req.Instance, Command: cmd.text}
	var scalar S
	found := false
	err = ex.strategy.Execute(ctx, req, opts, func(ctx context.Context, q types.TargetQuerier) error {
		res, err := ex.chain.Run(ctx, cc, func(ctx context.Context) (any, error) {
			rows, err := q.QueryContext(ctx, cmd.text, args...)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			defer func() { _ = rows.Close() }()
			var value S
			if rows.Next() {
				if err := rows.Scan(&value); err != nil {
					return nil, errors.WithStack(err)
				}
				found = true
			}
			return value, errors.WithStack(rows.Err())
		})
		if err != nil {
			return err
		}
		if typed, ok := res.(S); ok {
			scalar = typed
			return nil
		}
		// An interceptor substituted a differently-typed mock.
		if converted, ok := convertScalarAny[S](res); ok {
			scalar, found = converted, true
			return nil
		}
		return nil
	})
	if err != nil {
		return ret, false, err
	}
	if _, suppressed := cc.Suppressed(); suppressed {
		return scalar, true, nil
	}
	if !found && req.CommandType == types.StoredProcedure {
		// Fall back to the RETURN value.
		if converted, ok := convertScalar[S](int64(rs)); ok {
			return converted, true, nil
		}
		return ret, false, nil
	}
	return scalar, found, nil
}

func convertScalar[S any](n int64) (S, bool) {
	var zero S
	target := reflect.TypeOf(zero)
	if target == nil || !reflect.TypeOf(n).ConvertibleTo(target) {
		return zero, false
	}
	return reflect.ValueOf(n).Convert(target).Interface().(S), true
}

func convertScalarAny[S any](v any) (S, bool) {
	var zero S
	if v == nil {
		return zero, false
	}
	if typed, ok := v.(S); ok {
		return typed, true
	}
	target := reflect.TypeOf(zero)
	rv := reflect.ValueOf(v)
	if target == nil || !rv.Type().ConvertibleTo(target) {
		return zero, false
	}
	return rv.Convert(target).Interface().(S), true
}

// ExecuteNonQuery runs the request and returns the affected row
// count.
func ExecuteNonQuery(
	ctx context.Context, ex *Executor, req types.Request, opts types.Options,
) (int64, error) {
	if opts.DryRun {
		return 0, nil
	}
	cmd, err := ex.buildCommand(ctx, req, opts)
	if err != nil {
		return 0, err
	}
	cc := &intercept.CommandContext{Instance: req.Instance, Command: cmd.text}
	var affected int64
	err = ex.strategy.Execute(ctx, req, opts, func(ctx context.Context, q types.TargetQuerier) error {
		res, err := ex.chain.Run(ctx, cc, func(ctx context.Context) (any, error) {
			result, err := q.ExecContext(ctx, cmd.text, cmd.args...)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			n, err := result.RowsAffected()
			return n, errors.WithStack(err)
		})
		if err != nil {
			return err
		}
		if n, ok := convertScalarAny[int64](res); ok {
			affected = n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
