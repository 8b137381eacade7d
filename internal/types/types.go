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

// Package types contains data types and interfaces that define the
// major functional blocks of code within libdb. The goal of placing
// the types into this package is to make it easy to compose
// functionality as the libdb project evolves.
package types

import (
	"context"
	"database/sql"
	"time"

	"github.com/wotjr1649/libdb/internal/util/ident"
)

// A TargetQuerier is implemented by sql.Conn, sql.Tx, and sql.DB. It
// is the surface commands are executed against, so that the same code
// paths serve both the resilient (connection-owning) and the
// transactional (caller-owned) execution strategies.
type TargetQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ TargetQuerier = (*sql.Conn)(nil)
	_ TargetQuerier = (*sql.Tx)(nil)
	_ TargetQuerier = (*sql.DB)(nil)
)

// TargetPool is a wrapper around a database connection pool for a
// target SQL Server instance.
type TargetPool struct {
	*sql.DB
	PoolInfo
}

// PoolInfo describes a database connection pool.
type PoolInfo struct {
	ConnectionString string
	Instance         ident.Instance
	Version          string
}

// A DistributedCache is a shared key-value store used to fan schema
// metadata out across processes. The implementation may be a
// file-mapped shared-memory segment, redis, or similar; the core only
// depends on this surface.
type DistributedCache interface {
	// Get returns the stored bytes, or ok=false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key with the given time-to-live and
	// associates it with zero or more invalidation tags.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	// Remove deletes a single key.
	Remove(ctx context.Context, key string) error
	// RemoveByTag deletes every key associated with the tag.
	RemoveByTag(ctx context.Context, tag string) error
}

// A Memo is a durable key-value store used to persist small pieces of
// state, such as resumable-query cursors, across process restarts.
type Memo interface {
	// Get retrieves the value for the key, or nil if absent.
	Get(ctx context.Context, instance ident.Instance, key string) ([]byte, error)
	// Put stores the value for the key.
	Put(ctx context.Context, instance ident.Instance, key string, value []byte) error
}

// A LeaderHint reports whether this process currently holds the
// cluster-wide maintenance lease. Background maintenance (epoch
// watching, warm-up) only runs on the leader.
type LeaderHint interface {
	IsLeader() bool
}

// StaticLeader is a trivial LeaderHint.
type StaticLeader bool

// IsLeader implements LeaderHint.
func (s StaticLeader) IsLeader() bool { return bool(s) }

// A MemoryGauge reports process memory load in the range [0, 1]. The
// adaptive bulk batch sizer shrinks batches when the reported load
// crosses its high-water mark.
type MemoryGauge interface {
	Load() float64
}

// A RowReader is a forward-only, row-oriented view over columnar
// data. It is consumed by the bulk-copy and TVP paths.
type RowReader interface {
	// Columns returns the column names in ordinal order.
	Columns() []string
	// Next advances to the next row, returning false once the data
	// is exhausted.
	Next() bool
	// Values returns the current row. The returned slice is only
	// valid until the next call to Next.
	Values() ([]any, error)
	// RowCount returns the total number of rows.
	RowCount() int
	// Close releases the underlying buffers. It is safe to call
	// more than once.
	Close() error
}

// CommandType selects how command text is interpreted.
type CommandType int

// CommandType values.
const (
	Text CommandType = iota
	StoredProcedure
	TableDirect
)

// SchemaMode controls how the executor resolves stored-procedure
// metadata before binding parameters.
type SchemaMode int

const (
	// SchemaDefault defers to the executor's configured mode.
	SchemaDefault SchemaMode = iota
	// SchemaNone skips schema resolution entirely.
	SchemaNone
	// SchemaServiceOnly always consults the schema service.
	SchemaServiceOnly
	// SchemaSnapshotOnly only consults the in-process snapshot; a
	// cold cache falls back to verbatim binding.
	SchemaSnapshotOnly
	// SchemaSnapshotThenService consults the snapshot first and
	// falls back to the service on a miss. This is the default.
	SchemaSnapshotThenService
)

// Options carries per-call execution overrides.
type Options struct {
	// SchemaMode overrides the executor's default schema handling.
	SchemaMode SchemaMode
	// CommandTimeout bounds a single driver operation. Zero selects
	// the pipeline default.
	CommandTimeout time.Duration
	// DryRun short-circuits the driver entirely: reads yield empty
	// results and writes are no-ops.
	DryRun bool
}

// Request describes one logical database operation.
type Request struct {
	Instance      ident.Instance
	Command       string
	CommandType   CommandType
	Params        any
	Transactional bool
}
