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

package binder

import (
	"database/sql"
	"reflect"
	"strconv"
	"time"

	"github.com/golang-sql/civil"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
)

// schemaTabler is the optional surface a RowReader exposes to
// describe its column types; the columnar reader implements it.
type schemaTabler interface {
	SchemaTable() []types.ColumnSchema
}

// Encode drains the bound reader into the driver's table-valued
// argument form. The reader is closed regardless of outcome.
func (t *BoundTVP) Encode() (arg any, err error) {
	defer func() {
		closeErr := t.Reader.Close()
		if err == nil {
			err = closeErr
		}
	}()

	st, ok := t.Reader.(schemaTabler)
	if !ok {
		return nil, errors.Errorf(
			"parameter %s: reader %T does not describe its column types", t.ParamName, t.Reader)
	}
	schema := st.SchemaTable()

	// The driver reflects over a struct slice; synthesize the row
	// struct from the schema table. Field names carry no meaning on
	// the wire, only ordinal position does.
	fields := make([]reflect.StructField, len(schema))
	for i := range schema {
		ft := wireType(schema[i].DataType)
		if schema[i].AllowNull && ft.Kind() != reflect.Slice && ft.Kind() != reflect.Pointer {
			ft = reflect.PointerTo(ft)
		}
		fields[i] = reflect.StructField{
			Name: "C" + strconv.Itoa(i),
			Type: ft,
		}
	}
	rowType := reflect.StructOf(fields)
	rows := reflect.MakeSlice(reflect.SliceOf(rowType), 0, t.Reader.RowCount())

	for t.Reader.Next() {
		values, err := t.Reader.Values()
		if err != nil {
			return nil, err
		}
		row := reflect.New(rowType).Elem()
		for i, v := range values {
			if v == nil {
				continue
			}
			f := row.Field(i)
			rv := reflect.ValueOf(v)
			if f.Kind() == reflect.Pointer {
				p := reflect.New(f.Type().Elem())
				p.Elem().Set(rv.Convert(f.Type().Elem()))
				f.Set(p)
			} else {
				f.Set(rv.Convert(f.Type()))
			}
		}
		rows = reflect.Append(rows, row)
	}

	return sql.Named(t.ParamName, mssql.TVP{
		TypeName: t.TypeName.Raw(),
		Value:    rows.Interface(),
	}), nil
}

// wireType maps declared column types onto the types the reader's
// coercions actually produce.
func wireType(t reflect.Type) reflect.Type {
	switch t {
	case reflect.TypeOf(civil.Date{}):
		return reflect.TypeOf(time.Time{})
	case reflect.TypeOf(civil.Time{}):
		return reflect.TypeOf(time.Duration(0))
	}
	return t
}
