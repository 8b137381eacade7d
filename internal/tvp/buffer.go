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

// Package tvp builds columnar buffers over row sequences and exposes
// them through a row-oriented reader for the driver's table-valued
// parameter and bulk-copy paths. It also validates row types against
// their database-side table types.
package tvp

import (
	"reflect"
	"sync"
	"time"

	"github.com/golang-sql/civil"
	"github.com/pkg/errors"
)

// ErrBufferDisposed is the panic value raised by any access to a
// disposed column buffer. Disposal is terminal; the deterministic
// failure here exists to surface lifecycle bugs instead of letting
// them read from recycled storage.
var ErrBufferDisposed = errors.New("column buffer used after dispose")

// initialColumnCapacity is the starting capacity handed out by the
// buffer pools.
const initialColumnCapacity = 64

// A Column is one pooled column of values.
type Column interface {
	// Len returns the number of appended values.
	Len() int
	// Value returns the value at row i, boxed and coerced for the
	// wire protocol. Null reads as an untyped nil.
	Value(i int) any
	// Dispose returns the backing storage to its pool. Any later
	// access panics with ErrBufferDisposed.
	Dispose()
}

// slicePools holds one *sync.Pool of backing slices per element type.
var slicePools sync.Map // reflect.Type -> *sync.Pool

func poolFor[T any]() *sync.Pool {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if p, ok := slicePools.Load(key); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: func() any {
		s := make([]T, 0, initialColumnCapacity)
		return &s
	}}
	actual, _ := slicePools.LoadOrStore(key, p)
	return actual.(*sync.Pool)
}

// A Buffer is a dynamically growing column of T with amortized O(1)
// append. The backing storage is pooled; growth happens by doubling
// through the runtime's append. Null values are tracked in a side
// bitmap so that value types need no pointer wrapping.
type Buffer[T any] struct {
	data     *[]T
	nulls    []bool
	hasNulls bool
	pool     *sync.Pool
	disposed bool
}

// NewBuffer acquires a pooled buffer for T.
func NewBuffer[T any]() *Buffer[T] {
	pool := poolFor[T]()
	data := pool.Get().(*[]T)
	*data = (*data)[:0]
	return &Buffer[T]{data: data, pool: pool}
}

// Append adds one value.
func (b *Buffer[T]) Append(v T) {
	b.check()
	*b.data = append(*b.data, v)
	if b.hasNulls {
		b.nulls = append(b.nulls, false)
	}
}

// AppendNull adds one null.
func (b *Buffer[T]) AppendNull() {
	b.check()
	var zero T
	*b.data = append(*b.data, zero)
	if !b.hasNulls {
		b.hasNulls = true
		b.nulls = make([]bool, len(*b.data))
	} else {
		b.nulls = append(b.nulls, false)
	}
	b.nulls[len(*b.data)-1] = true
}

// Len implements Column.
func (b *Buffer[T]) Len() int {
	b.check()
	return len(*b.data)
}

// Get returns the typed value and whether it is non-null.
func (b *Buffer[T]) Get(i int) (T, bool) {
	b.check()
	if b.hasNulls && b.nulls[i] {
		var zero T
		return zero, false
	}
	return (*b.data)[i], true
}

// Value implements Column, applying wire-format coercions.
func (b *Buffer[T]) Value(i int) any {
	v, ok := b.Get(i)
	if !ok {
		return nil
	}
	return coerce(v)
}

// Dispose implements Column. The first call returns the storage to
// the pool; every subsequent use of the buffer panics.
func (b *Buffer[T]) Dispose() {
	if b.disposed {
		return
	}
	b.disposed = true
	b.pool.Put(b.data)
	b.data = nil
	b.nulls = nil
}

func (b *Buffer[T]) check() {
	if b.disposed {
		panic(ErrBufferDisposed)
	}
}

// coerce applies the type conversions the wire protocol needs:
// date-only values become a date-time at midnight, time-of-day values
// become a duration since midnight. Everything else passes through.
func coerce(v any) any {
	switch t := v.(type) {
	case civil.Date:
		return time.Date(t.Year, t.Month, t.Day, 0, 0, 0, 0, time.UTC)
	case civil.Time:
		return time.Duration(t.Hour)*time.Hour +
			time.Duration(t.Minute)*time.Minute +
			time.Duration(t.Second)*time.Second +
			time.Duration(t.Nanosecond)
	default:
		return v
	}
}
