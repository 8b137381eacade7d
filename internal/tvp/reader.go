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

package tvp

import (
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
)

// ColumnarReader is a forward-only, row-oriented view over a set of
// column buffers. The reader owns its columns: closing it disposes
// every buffer exactly once.
type ColumnarReader struct {
	names    []string
	cols     []Column
	ordinals map[string]int
	schema   []types.ColumnSchema
	rows     int
	cur      int
	closed   bool
	scratch  []any
}

var _ types.RowReader = (*ColumnarReader)(nil)

// NewColumnarReader assembles a reader. Every column must hold rows
// values.
func NewColumnarReader(
	names []string,
	cols []Column,
	ordinals map[string]int,
	schema []types.ColumnSchema,
	rows int,
) (*ColumnarReader, error) {
	if len(names) != len(cols) {
		return nil, errors.Errorf(
			"column name/buffer mismatch: %d names, %d buffers", len(names), len(cols))
	}
	for i, c := range cols {
		if c.Len() != rows {
			return nil, errors.Errorf(
				"column %q holds %d rows, want %d", names[i], c.Len(), rows)
		}
	}
	return &ColumnarReader{
		names:    names,
		cols:     cols,
		ordinals: ordinals,
		schema:   schema,
		rows:     rows,
		cur:      -1,
		scratch:  make([]any, len(cols)),
	}, nil
}

// Columns implements types.RowReader.
func (r *ColumnarReader) Columns() []string { return r.names }

// SchemaTable returns the schema-description rows for the columns.
func (r *ColumnarReader) SchemaTable() []types.ColumnSchema { return r.schema }

// Ordinal returns the ordinal for a column name.
func (r *ColumnarReader) Ordinal(name string) (int, bool) {
	ord, ok := r.ordinals[name]
	return ord, ok
}

// RowCount implements types.RowReader.
func (r *ColumnarReader) RowCount() int { return r.rows }

// Next implements types.RowReader.
func (r *ColumnarReader) Next() bool {
	if r.closed || r.cur+1 >= r.rows {
		return false
	}
	r.cur++
	return true
}

// Values implements types.RowReader. The returned slice is reused on
// the next advance.
func (r *ColumnarReader) Values() ([]any, error) {
	if r.closed {
		return nil, errors.New("reader is closed")
	}
	if r.cur < 0 {
		return nil, errors.New("Next has not been called")
	}
	for i, c := range r.cols {
		r.scratch[i] = c.Value(r.cur)
	}
	return r.scratch, nil
}

// Reset rewinds the reader to before the first row so a retried
// bulk attempt can replay it.
func (r *ColumnarReader) Reset() {
	if !r.closed {
		r.cur = -1
	}
}

// IsClosed reports whether Close has run.
func (r *ColumnarReader) IsClosed() bool { return r.closed }

// Close implements types.RowReader. It disposes all column buffers;
// repeated calls are no-ops.
func (r *ColumnarReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for _, c := range r.cols {
		c.Dispose()
	}
	return nil
}
