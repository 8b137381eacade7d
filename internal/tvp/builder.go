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
	"time"

	"github.com/golang-sql/civil"
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/accessor"
)

// appender feeds one boxed value into a typed column buffer.
type appender func(v any) error

// newColumn allocates a typed buffer for the property's underlying Go
// type, falling back to a boxed buffer for anything unusual.
func newColumn(t reflect.Type) (Column, appender) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return typedColumn[string]()
	case reflect.Bool:
		return typedColumn[bool]()
	case reflect.Int8, reflect.Uint8:
		return typedColumn[int8]()
	case reflect.Int16:
		return typedColumn[int16]()
	case reflect.Int32:
		return typedColumn[int32]()
	case reflect.Int, reflect.Int64:
		if t == reflect.TypeOf(time.Duration(0)) {
			return typedColumn[time.Duration]()
		}
		return typedColumn[int64]()
	case reflect.Float32:
		return typedColumn[float32]()
	case reflect.Float64:
		return typedColumn[float64]()
	}
	switch t {
	case reflect.TypeOf(time.Time{}):
		return typedColumn[time.Time]()
	case reflect.TypeOf(civil.Date{}):
		return typedColumn[civil.Date]()
	case reflect.TypeOf(civil.Time{}):
		return typedColumn[civil.Time]()
	case reflect.TypeOf([]byte(nil)):
		return typedColumn[[]byte]()
	}
	return typedColumn[any]()
}

func typedColumn[T any]() (Column, appender) {
	buf := NewBuffer[T]()
	return buf, func(v any) error {
		if v == nil {
			buf.AppendNull()
			return nil
		}
		typed, ok := v.(T)
		if !ok {
			// Integer widths narrower than the buffer arrive boxed
			// as their declared type; convert through reflection.
			rv := reflect.ValueOf(v)
			target := reflect.TypeOf((*T)(nil)).Elem()
			if !rv.Type().ConvertibleTo(target) {
				return errors.Errorf("cannot store %T in a %s column", v, target)
			}
			typed = rv.Convert(target).Interface().(T)
		}
		buf.Append(typed)
		return nil
	}
}

// NewReader builds a ColumnarReader over rows using the access plan.
// The reader owns the pooled column storage; callers must close it.
func NewReader[T any](acc *accessor.Accessors, rows []T) (*ColumnarReader, error) {
	return NewReaderFromValue(acc, reflect.ValueOf(rows))
}

// NewReaderFromValue is the reflective form of NewReader for callers
// that discover the row slice at runtime.
func NewReaderFromValue(acc *accessor.Accessors, rows reflect.Value) (*ColumnarReader, error) {
	if rows.Kind() != reflect.Slice {
		return nil, errors.Errorf("expected a row slice, got %s", rows.Kind())
	}

	names := make([]string, len(acc.Props))
	cols := make([]Column, len(acc.Props))
	appenders := make([]appender, len(acc.Props))
	for i := range acc.Props {
		names[i] = acc.Props[i].Name
		cols[i], appenders[i] = newColumn(acc.Props[i].Type)
	}
	disposeAll := func() {
		for _, c := range cols {
			c.Dispose()
		}
	}

	n := rows.Len()
	for r := 0; r < n; r++ {
		row := rows.Index(r).Interface()
		for i, get := range acc.Getters {
			if err := appenders[i](get(row)); err != nil {
				disposeAll()
				return nil, errors.Wrapf(err, "row %d, column %q", r, names[i])
			}
		}
	}

	ret, err := NewColumnarReader(names, cols, acc.Ordinals, acc.Schema, n)
	if err != nil {
		disposeAll()
		return nil, err
	}
	return ret, nil
}
