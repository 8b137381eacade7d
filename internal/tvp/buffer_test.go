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
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndRead(t *testing.T) {
	buf := NewBuffer[int64]()
	for i := int64(0); i < 1000; i++ {
		buf.Append(i)
	}
	require.Equal(t, 1000, buf.Len())
	assert.Equal(t, int64(0), buf.Value(0))
	assert.Equal(t, int64(999), buf.Value(999))
	buf.Dispose()
}

func TestBufferNulls(t *testing.T) {
	buf := NewBuffer[string]()
	buf.Append("a")
	buf.AppendNull()
	buf.Append("c")
	require.Equal(t, 3, buf.Len())
	assert.Equal(t, "a", buf.Value(0))
	assert.Nil(t, buf.Value(1))
	assert.Equal(t, "c", buf.Value(2))
	buf.Dispose()
}

func TestBufferUseAfterDispose(t *testing.T) {
	buf := NewBuffer[int32]()
	buf.Append(1)
	buf.Dispose()
	// A second dispose is a no-op.
	buf.Dispose()
	require.PanicsWithValue(t, ErrBufferDisposed, func() { buf.Append(2) })
	require.PanicsWithValue(t, ErrBufferDisposed, func() { _ = buf.Len() })
	require.PanicsWithValue(t, ErrBufferDisposed, func() { _ = buf.Value(0) })
}

func TestBufferPoolReuse(t *testing.T) {
	buf := NewBuffer[float64]()
	for i := 0; i < 100; i++ {
		buf.Append(float64(i))
	}
	buf.Dispose()
	// The next buffer draws from the pool; it must read as empty.
	next := NewBuffer[float64]()
	require.Equal(t, 0, next.Len())
	next.Dispose()
}

func TestCoercions(t *testing.T) {
	dates := NewBuffer[civil.Date]()
	dates.Append(civil.Date{Year: 2024, Month: time.March, Day: 5})
	got := dates.Value(0)
	require.IsType(t, time.Time{}, got)
	ts := got.(time.Time)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, time.March, ts.Month())
	assert.Equal(t, 5, ts.Day())
	assert.Zero(t, ts.Hour())
	dates.Dispose()

	clocks := NewBuffer[civil.Time]()
	clocks.Append(civil.Time{Hour: 1, Minute: 2, Second: 3})
	d := clocks.Value(0)
	require.IsType(t, time.Duration(0), d)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, d)
	clocks.Dispose()
}
