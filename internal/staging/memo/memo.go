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

// Package memo provides a durable key-value store used to persist
// small pieces of runtime state, such as resumable-query cursors,
// across process restarts.
package memo

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// Schema declared here for ease of reference; CreateTable applies
// it.
const schema = `
IF OBJECT_ID(N'%[1]s', N'U') IS NULL
CREATE TABLE %[1]s (
  instance   NVARCHAR(64)   NOT NULL,
  memo_key   NVARCHAR(256)  NOT NULL,
  value      VARBINARY(MAX) NOT NULL,
  updated_at DATETIME2      NOT NULL,
  CONSTRAINT pk_memo PRIMARY KEY (instance, memo_key)
)`

const upsertTemplate = `
MERGE INTO %[1]s AS t
USING (SELECT @instance AS instance, @key AS memo_key) AS s
   ON t.instance = s.instance AND t.memo_key = s.memo_key
 WHEN MATCHED THEN UPDATE SET value = @value, updated_at = SYSUTCDATETIME()
 WHEN NOT MATCHED THEN
      INSERT (instance, memo_key, value, updated_at)
      VALUES (@instance, @key, @value, SYSUTCDATETIME());`

const selectTemplate = `
SELECT value FROM %[1]s WHERE instance = @instance AND memo_key = @key`

// DB persists memo entries in a SQL Server table.
type DB struct {
	pool *types.TargetPool

	sql struct {
		upsert string
		get    string
	}
}

var _ types.Memo = (*DB)(nil)

// NewDB constructs the store and ensures the backing table exists.
func NewDB(ctx context.Context, pool *types.TargetPool, table string) (*DB, error) {
	if table == "" {
		table = "_libdb.memo"
	}
	quoted := ident.ParseObjectName(table).Quoted()
	if _, err := pool.ExecContext(ctx, fmt.Sprintf(schema, quoted)); err != nil {
		return nil, errors.Wrap(err, "could not create memo table")
	}
	ret := &DB{pool: pool}
	ret.sql.upsert = fmt.Sprintf(upsertTemplate, quoted)
	ret.sql.get = fmt.Sprintf(selectTemplate, quoted)
	return ret, nil
}

// Get implements types.Memo.
func (d *DB) Get(ctx context.Context, instance ident.Instance, key string) ([]byte, error) {
	start := time.Now()
	var value []byte
	err := d.pool.QueryRowContext(ctx, d.sql.get,
		sql.Named("instance", instance.Raw()),
		sql.Named("key", key),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		memoGetErrors.Inc()
		return nil, errors.WithStack(err)
	}
	memoGetDurations.Observe(time.Since(start).Seconds())
	return value, nil
}

// Put implements types.Memo.
func (d *DB) Put(ctx context.Context, instance ident.Instance, key string, value []byte) error {
	start := time.Now()
	_, err := d.pool.ExecContext(ctx, d.sql.upsert,
		sql.Named("instance", instance.Raw()),
		sql.Named("key", key),
		sql.Named("value", value),
	)
	if err != nil {
		memoPutErrors.Inc()
		return errors.WithStack(err)
	}
	memoPutDurations.Observe(time.Since(start).Seconds())
	return nil
}

// Memory is a process-local Memo for tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

var _ types.Memo = (*Memory)(nil)

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Get implements types.Memo.
func (m *Memory) Get(_ context.Context, instance ident.Instance, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[instance.Raw()+":"+key]; ok {
		ret := make([]byte, len(v))
		copy(ret, v)
		return ret, nil
	}
	return nil, nil
}

// Put implements types.Memo.
func (m *Memory) Put(_ context.Context, instance ident.Instance, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[instance.Raw()+":"+key] = stored
	return nil
}
