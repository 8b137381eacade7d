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

// Package accessor derives column-oriented access plans from row
// types. An Accessors value fixes the column ordering, the per-column
// getters, the ordinal lookup map, and the schema-description table
// for one row type. Code generation can publish accessors through a
// Registry; the runtime reflection path produces identical plans for
// types that were not generated.
package accessor

import (
	"database/sql"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-sql/civil"
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// TableTyper is implemented by row types that declare the SQL Server
// table-type name their rows bind to.
type TableTyper interface {
	TableTypeName() string
}

// A Prop describes one readable property of a row type.
type Prop struct {
	// Name is the column name: the db struct tag when present, else
	// the field name.
	Name string
	// NameHash is the precomputed case-insensitive hash of Name.
	NameHash uint64
	// Index is the reflect field-index chain.
	Index []int
	// Type is the declared Go type of the field.
	Type reflect.Type
	// Length is the declared maximum length, or -1.
	Length int64
	// Precision and Scale are the declared decimal facets; HasFacets
	// reports whether they were declared.
	Precision uint8
	Scale     uint8
	HasFacets bool
}

// Getter reads one column value from a row. A nil pointer field reads
// as an untyped nil.
type Getter func(row any) any

// Accessors is the immutable access plan for one row type. Apart from
// the monotonic validated flag, an Accessors value never changes
// after publication.
type Accessors struct {
	// RowType is the concrete struct type the plan was built for.
	RowType reflect.Type
	// Props, Getters, and Schema are index-aligned: entry i of each
	// describes the same column.
	Props   []Prop
	Getters []Getter
	Schema  []types.ColumnSchema
	// Ordinals maps the lower-cased column name to its ordinal.
	Ordinals map[string]int
	// TypeName is the explicit SQL table-type name, when the row
	// type declares one.
	TypeName string

	validated atomic.Bool
}

// Validated reports whether the TVP structural validator has already
// accepted this plan against the database-side type.
func (a *Accessors) Validated() bool { return a.validated.Load() }

// MarkValidated records a successful structural validation. The flag
// only ever transitions false to true.
func (a *Accessors) MarkValidated() { a.validated.Store(true) }

// Ordinal returns the ordinal for a column name, case-insensitively.
func (a *Accessors) Ordinal(name string) (int, bool) {
	ord, ok := a.Ordinals[ident.Lower(name)]
	return ord, ok
}

// Equal reports whether two plans describe the same columns in the
// same order with the same facets. The getter functions themselves
// are not comparable; structural equality is the contract between the
// code-generated and reflected paths.
func (a *Accessors) Equal(o *Accessors) bool {
	if a.RowType != o.RowType || a.TypeName != o.TypeName ||
		len(a.Props) != len(o.Props) {
		return false
	}
	for i := range a.Props {
		x, y := &a.Props[i], &o.Props[i]
		if x.Name != y.Name || x.NameHash != y.NameHash || x.Type != y.Type ||
			x.Length != y.Length || x.Precision != y.Precision ||
			x.Scale != y.Scale || x.HasFacets != y.HasFacets {
			return false
		}
	}
	return true
}

// timeType and friends are reused while building schema tables.
var (
	timeType      = reflect.TypeOf(time.Time{})
	civilDateType = reflect.TypeOf(civil.Date{})
	civilTimeType = reflect.TypeOf(civil.Time{})
	durationType  = reflect.TypeOf(time.Duration(0))
)

// reflectFor builds the access plan for rowType by reflection. The
// plan sorts properties ordinally by name: this ordering is the
// contract shared with code generation.
func reflectFor(rowType reflect.Type) (*Accessors, error) {
	if rowType.Kind() == reflect.Pointer {
		rowType = rowType.Elem()
	}
	if rowType.Kind() != reflect.Struct {
		return nil, errors.Errorf("row type %s is not a struct", rowType)
	}

	var props []Prop
	for _, field := range reflect.VisibleFields(rowType) {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("db"); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		p := Prop{
			Name:     name,
			NameHash: ident.HashInsensitive(name),
			Index:    field.Index,
			Type:     field.Type,
			Length:   -1,
		}
		if tag, ok := field.Tag.Lookup("dblen"); ok {
			n, err := strconv.ParseInt(tag, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s: bad dblen tag", rowType, field.Name)
			}
			p.Length = n
		}
		if tag, ok := field.Tag.Lookup("dbprec"); ok {
			prec, scale, err := parseFacets(tag)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s: bad dbprec tag", rowType, field.Name)
			}
			p.Precision, p.Scale, p.HasFacets = prec, scale, true
		}
		props = append(props, p)
	}
	if len(props) == 0 {
		return nil, errors.Errorf("row type %s has no readable columns", rowType)
	}

	// Ordinal (byte-wise, case-sensitive) sort by column name.
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })

	ordinals := make(map[string]int, len(props))
	for i := range props {
		key := ident.Lower(props[i].Name)
		if _, dup := ordinals[key]; dup {
			return nil, errors.Errorf(
				"row type %s declares duplicate column %q", rowType, props[i].Name)
		}
		ordinals[key] = i
	}

	ret := &Accessors{
		RowType:  rowType,
		Props:    props,
		Getters:  buildGetters(props),
		Schema:   buildSchema(props),
		Ordinals: ordinals,
	}
	if tt, ok := reflect.New(rowType).Interface().(TableTyper); ok {
		ret.TypeName = tt.TableTypeName()
	}
	return ret, nil
}

func parseFacets(tag string) (prec, scale uint8, _ error) {
	left, right, ok := strings.Cut(tag, ",")
	if !ok {
		return 0, 0, errors.New("expected precision,scale")
	}
	p, err := strconv.ParseUint(strings.TrimSpace(left), 10, 8)
	if err != nil {
		return 0, 0, err
	}
	s, err := strconv.ParseUint(strings.TrimSpace(right), 10, 8)
	if err != nil {
		return 0, 0, err
	}
	return uint8(p), uint8(s), nil
}

func buildGetters(props []Prop) []Getter {
	ret := make([]Getter, len(props))
	for i := range props {
		index := props[i].Index
		isPtr := props[i].Type.Kind() == reflect.Pointer
		ret[i] = func(row any) any {
			v := reflect.ValueOf(row)
			for v.Kind() == reflect.Pointer {
				v = v.Elem()
			}
			f := v.FieldByIndex(index)
			if isPtr {
				if f.IsNil() {
					return nil
				}
				f = f.Elem()
			}
			return f.Interface()
		}
	}
	return ret
}

// buildSchema derives the schema-description table.
func buildSchema(props []Prop) []types.ColumnSchema {
	ret := make([]types.ColumnSchema, len(props))
	for i := range props {
		p := &props[i]
		ft := p.Type
		allowNull := false
		switch ft.Kind() {
		case reflect.Pointer:
			allowNull = true
			ft = ft.Elem()
		case reflect.Interface, reflect.Slice, reflect.Map:
			allowNull = true
		}
		if isNullWrapper(ft) {
			allowNull = true
			ft = nullWrapperElem(ft)
		}

		col := types.ColumnSchema{
			Name:      p.Name,
			Ordinal:   i,
			DataType:  ft,
			AllowNull: allowNull,
			Size:      p.Length,
		}
		switch {
		case p.HasFacets:
			col.Precision, col.Scale = p.Precision, p.Scale
		case ft.Kind() == reflect.Float64 || ft.Kind() == reflect.Float32:
			// Floats bound as decimal default to decimal(38, 4).
			col.Precision, col.Scale = 38, 4
		case isTemporal(ft):
			col.Scale = 7
		}
		ret[i] = col
	}
	return ret
}

func isTemporal(t reflect.Type) bool {
	switch t {
	case timeType, civilDateType, civilTimeType, durationType:
		return true
	}
	return false
}

// isNullWrapper recognizes database/sql Null* style wrappers: a
// struct with exactly a value field and a Valid bool.
func isNullWrapper(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t.NumField() != 2 {
		return false
	}
	if t == reflect.TypeOf(sql.NullString{}) || t == reflect.TypeOf(sql.NullInt64{}) ||
		t == reflect.TypeOf(sql.NullInt32{}) || t == reflect.TypeOf(sql.NullInt16{}) ||
		t == reflect.TypeOf(sql.NullByte{}) || t == reflect.TypeOf(sql.NullFloat64{}) ||
		t == reflect.TypeOf(sql.NullBool{}) || t == reflect.TypeOf(sql.NullTime{}) {
		return true
	}
	valid, ok := t.FieldByName("Valid")
	return ok && valid.Type.Kind() == reflect.Bool
}

func nullWrapperElem(t reflect.Type) reflect.Type {
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Name != "Valid" {
			return t.Field(i).Type
		}
	}
	return t
}
