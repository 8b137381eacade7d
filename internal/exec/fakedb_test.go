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
	"database/sql/driver"
	"io"
	"sync"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// fakeResult scripts the response to one query.
type fakeResult struct {
	cols     []string
	rows     [][]driver.Value
	affected int64
}

// fakeHandler resolves a query to its scripted result.
type fakeHandler func(query string, args []driver.NamedValue) (*fakeResult, error)

// fakeDB is a scriptable database/sql driver, standing in for the
// TDS driver in executor tests.
type fakeDB struct {
	mu      sync.Mutex
	handler fakeHandler

	queries   []string
	stmtExecs int
}

func newFakeDB(handler fakeHandler) *fakeDB {
	return &fakeDB{handler: handler}
}

func (f *fakeDB) pool() *types.TargetPool {
	return &types.TargetPool{
		DB: sql.OpenDB(&fakeConnector{db: f}),
		PoolInfo: types.PoolInfo{
			Instance: ident.Instance("f4kef4kef4kef4ke"),
		},
	}
}

func (f *fakeDB) record(query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
}

func (f *fakeDB) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeDB) dispatch(query string, args []driver.NamedValue) (*fakeResult, error) {
	f.record(query)
	return f.handler(query, args)
}

type fakeConnector struct{ db *fakeDB }

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{db: c.db}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, driver.ErrBadConn
}

type fakeConn struct{ db *fakeDB }

var (
	_ driver.Conn           = (*fakeConn)(nil)
	_ driver.QueryerContext = (*fakeConn)(nil)
	_ driver.ExecerContext  = (*fakeConn)(nil)
)

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{db: c.db, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }

func (c *fakeConn) QueryContext(
	_ context.Context, query string, args []driver.NamedValue,
) (driver.Rows, error) {
	res, err := c.db.dispatch(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{result: res}, nil
}

func (c *fakeConn) ExecContext(
	_ context.Context, query string, args []driver.NamedValue,
) (driver.Result, error) {
	res, err := c.db.dispatch(query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(res.affected), nil
}

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	db    *fakeDB
	query string
}

var _ driver.StmtExecContext = (*fakeStmt)(nil)

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.db.mu.Lock()
	s.db.stmtExecs++
	s.db.mu.Unlock()
	return driver.RowsAffected(int64(len(args))), nil
}

func (s *fakeStmt) ExecContext(
	_ context.Context, args []driver.NamedValue,
) (driver.Result, error) {
	s.db.mu.Lock()
	s.db.stmtExecs++
	s.db.mu.Unlock()
	return driver.RowsAffected(int64(len(args))), nil
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	res, err := s.db.dispatch(s.query, nil)
	if err != nil {
		return nil, err
	}
	return &fakeRows{result: res}, nil
}

type fakeRows struct {
	result *fakeResult
	next   int
}

func (r *fakeRows) Columns() []string { return r.result.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.result.rows) {
		return io.EOF
	}
	copy(dest, r.result.rows[r.next])
	r.next++
	return nil
}
