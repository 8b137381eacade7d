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
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotjr1649/libdb/internal/accessor"
)

type bulkRow struct {
	Age      int32
	Email    *string
	UserName string `dblen:"50"`
}

func newBulkReader(t *testing.T, rows []bulkRow) *ColumnarReader {
	t.Helper()
	reg := accessor.NewRegistry(0)
	acc, err := reg.Lookup(reflect.TypeOf(bulkRow{}))
	require.NoError(t, err)
	reader, err := NewReader(acc, rows)
	require.NoError(t, err)
	return reader
}

func TestReaderForwardOnly(t *testing.T) {
	email := "b@test.com"
	reader := newBulkReader(t, []bulkRow{
		{Age: 20, UserName: "Bulk1"},
		{Age: 21, Email: &email, UserName: "Bulk2"},
	})
	defer func() { _ = reader.Close() }()

	require.Equal(t, 2, reader.RowCount())
	require.Equal(t, []string{"Age", "Email", "UserName"}, reader.Columns())

	_, err := reader.Values()
	require.Error(t, err, "Values before Next must fail")

	require.True(t, reader.Next())
	values, err := reader.Values()
	require.NoError(t, err)
	assert.Equal(t, int32(20), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, "Bulk1", values[2])

	require.True(t, reader.Next())
	values, err = reader.Values()
	require.NoError(t, err)
	assert.Equal(t, "b@test.com", values[1])

	require.False(t, reader.Next())
	require.False(t, reader.Next())
}

func TestReaderCloseDisposesOnce(t *testing.T) {
	reader := newBulkReader(t, []bulkRow{{Age: 1, UserName: "x"}})
	require.False(t, reader.IsClosed())
	require.NoError(t, reader.Close())
	require.True(t, reader.IsClosed())
	require.NoError(t, reader.Close())

	_, err := reader.Values()
	require.Error(t, err)
	require.False(t, reader.Next())
}

func TestReaderReset(t *testing.T) {
	reader := newBulkReader(t, []bulkRow{{Age: 1, UserName: "x"}, {Age: 2, UserName: "y"}})
	defer func() { _ = reader.Close() }()
	for reader.Next() {
	}
	reader.Reset()
	count := 0
	for reader.Next() {
		count++
	}
	require.Equal(t, 2, count)
}

func TestReaderColumnMismatch(t *testing.T) {
	short := NewBuffer[int32]()
	short.Append(1)
	long := NewBuffer[int32]()
	long.Append(1)
	long.Append(2)
	_, err := NewColumnarReader(
		[]string{"a", "b"},
		[]Column{short, long},
		map[string]int{"a": 0, "b": 1},
		nil, 2)
	require.Error(t, err)
	short.Dispose()
	long.Dispose()
}
