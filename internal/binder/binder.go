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

// Package binder turns strongly-typed parameter values into driver
// arguments, enforcing database constraints (nullability, precision,
// integer width, temporal range) before the values reach the wire.
package binder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/accessor"
	"github.com/wotjr1649/libdb/internal/tvp"
	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// A BoundTVP is a table-valued argument awaiting structural
// validation. The executor validates it against the database-side
// type, then converts it with Encode.
type BoundTVP struct {
	// ParamName is the stored-procedure parameter (without the @).
	ParamName string
	// TypeName is the SQL table-type name the rows bind to.
	TypeName ident.ObjectName
	// Accessors is the plan the reader was built from; nil when the
	// caller supplied a pre-built reader.
	Accessors *accessor.Accessors
	// Reader carries the rows.
	Reader types.RowReader
}

// Bound is the result of binding one request's parameters.
type Bound struct {
	// Args are the driver arguments for non-TVP parameters.
	Args []any
	// TVPs are the table-valued arguments, to be validated and
	// encoded by the executor before execution.
	TVPs []BoundTVP
}

// Config adjusts binder behavior.
type Config struct {
	// StrictNullChecks makes a null value bound to a required
	// parameter an error rather than the server's problem.
	StrictNullChecks bool
}

// A Binder binds parameter payloads against stored-procedure schema
// metadata.
type Binder struct {
	cfg      Config
	registry *accessor.Registry
}

// New constructs a Binder.
func New(cfg Config, registry *accessor.Registry) *Binder {
	return &Binder{cfg: cfg, registry: registry}
}

// BindSp binds params against the procedure's declared parameters.
// params may be a struct, a pointer to struct, or a map keyed by
// parameter name.
func (b *Binder) BindSp(schema *types.SpSchema, params any) (*Bound, error) {
	lookup, err := b.valueLookup(params)
	if err != nil {
		return nil, err
	}

	ret := &Bound{}
	for i := range schema.Parameters {
		p := &schema.Parameters[i]
		if p.Direction == types.DirReturn || p.Direction == types.DirOut {
			continue
		}
		name := strings.TrimPrefix(p.Name, "@")
		value, found := lookup(name)
		if !found || value == nil {
			if !p.IsNullable && !p.HasDefault && b.cfg.StrictNullChecks {
				return nil, &types.ParameterMissingError{Param: p.Name}
			}
			if !found && p.HasDefault {
				continue
			}
			ret.Args = append(ret.Args, sql.Named(name, nil))
			continue
		}

		if p.Type == types.SQLStructured || p.UDTTypeName != "" {
			tvp, err := b.bindTVP(name, p, value)
			if err != nil {
				return nil, err
			}
			ret.TVPs = append(ret.TVPs, *tvp)
			continue
		}

		checked, err := checkValue(p, value)
		if err != nil {
			return nil, err
		}
		ret.Args = append(ret.Args, sql.Named(name, checked))
	}
	return ret, nil
}

// BindText attaches caller-supplied parameters to a text command
// verbatim. Maps become named arguments; slices pass through in
// positional order; structs bind through their access plan.
func (b *Binder) BindText(params any) ([]any, error) {
	switch t := params.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case []sql.Named:
		ret := make([]any, len(t))
		for i, n := range t {
			ret[i] = n
		}
		return ret, nil
	case map[string]any:
		ret := make([]any, 0, len(t))
		for name, value := range t {
			ret = append(ret, sql.Named(strings.TrimPrefix(name, "@"), value))
		}
		return ret, nil
	}

	acc, err := b.registry.Lookup(reflect.TypeOf(params))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot bind %T as text-command parameters", params)
	}
	ret := make([]any, len(acc.Props))
	for i := range acc.Props {
		ret[i] = sql.Named(acc.Props[i].Name, acc.Getters[i](params))
	}
	return ret, nil
}

// valueLookup returns a case-insensitive accessor over the payload.
func (b *Binder) valueLookup(params any) (func(name string) (any, bool), error) {
	switch t := params.(type) {
	case nil:
		return func(string) (any, bool) { return nil, false }, nil
	case map[string]any:
		folded := make(map[string]any, len(t))
		for k, v := range t {
			folded[ident.Lower(strings.TrimPrefix(k, "@"))] = v
		}
		return func(name string) (any, bool) {
			v, ok := folded[ident.Lower(name)]
			return v, ok
		}, nil
	}

	acc, err := b.registry.Lookup(reflect.TypeOf(params))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot bind %T as stored-procedure parameters", params)
	}
	return func(name string) (any, bool) {
		ord, ok := acc.Ordinal(name)
		if !ok {
			return nil, false
		}
		return acc.Getters[ord](params), true
	}, nil
}

func (b *Binder) bindTVP(name string, p *types.SpParameter, value any) (*BoundTVP, error) {
	typeName := ident.ParseObjectName(p.UDTTypeName)
	if reader, ok := value.(types.RowReader); ok {
		return &BoundTVP{ParamName: name, TypeName: typeName, Reader: reader}, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, errors.Errorf(
			"parameter %s: tvp value must be a row slice or RowReader, got %T", p.Name, value)
	}
	acc, err := b.registry.Lookup(rv.Type().Elem())
	if err != nil {
		return nil, errors.Wrapf(err, "parameter %s", p.Name)
	}
	reader, err := tvp.NewReaderFromValue(acc, rv)
	if err != nil {
		return nil, errors.Wrapf(err, "parameter %s", p.Name)
	}
	if acc.TypeName != "" {
		typeName = ident.ParseObjectName(acc.TypeName)
	}
	return &BoundTVP{
		ParamName: name,
		TypeName:  typeName,
		Accessors: acc,
		Reader:    reader,
	}, nil
}

// checkValue enforces DB-side constraints ahead of the driver.
func checkValue(p *types.SpParameter, value any) (any, error) {
	switch p.Type {
	case types.SQLDecimal, types.SQLNumeric, types.SQLMoney, types.SQLSmallMoney:
		if err := checkDecimal(p, value); err != nil {
			return nil, err
		}
	case types.SQLTinyInt:
		if err := checkIntRange(p, value, 0, 255); err != nil {
			return nil, err
		}
	case types.SQLSmallInt:
		if err := checkIntRange(p, value, -32768, 32767); err != nil {
			return nil, err
		}
	case types.SQLInt:
		if err := checkIntRange(p, value, -2147483648, 2147483647); err != nil {
			return nil, err
		}
	case types.SQLDateTime, types.SQLSmallDateTime:
		if t, ok := value.(time.Time); ok && t.Year() < 1753 {
			return nil, &types.ValueOverflowError{
				Param:      p.Name,
				Constraint: p.Type.String() + " (minimum year 1753)",
			}
		}
	}

	if recognized(value) {
		return value, nil
	}
	// Unrecognized complex values travel as JSON text.
	buf, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "parameter %s: cannot serialize %T", p.Name, value)
	}
	return string(buf), nil
}

// checkDecimal verifies that the digits left of the point fit the
// declared precision minus scale.
func checkDecimal(p *types.SpParameter, value any) error {
	var text string
	switch t := value.(type) {
	case float64:
		text = fmt.Sprintf("%f", t)
	case float32:
		text = fmt.Sprintf("%f", t)
	case string:
		text = t
	case fmt.Stringer:
		text = t.String()
	default:
		return nil
	}
	text = strings.TrimLeft(strings.TrimPrefix(text, "-"), "0")
	intDigits := len(text)
	if idx := strings.IndexByte(text, '.'); idx >= 0 {
		intDigits = idx
	}
	if p.Precision > 0 && intDigits > int(p.Precision)-int(p.Scale) {
		return &types.ValueOverflowError{
			Param:      p.Name,
			Constraint: fmt.Sprintf("decimal(%d,%d)", p.Precision, p.Scale),
		}
	}
	return nil
}

func checkIntRange(p *types.SpParameter, value any, lo, hi int64) error {
	rv := reflect.ValueOf(value)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > uint64(hi) {
			return overflow(p, lo, hi)
		}
		return nil
	default:
		return nil
	}
	if n < lo || n > hi {
		return overflow(p, lo, hi)
	}
	return nil
}

func overflow(p *types.SpParameter, lo, hi int64) error {
	return &types.ValueOverflowError{
		Param:      p.Name,
		Constraint: fmt.Sprintf("%s [%d, %d]", p.Type, lo, hi),
	}
}

// recognized reports whether the driver understands the value
// natively.
func recognized(value any) bool {
	switch value.(type) {
	case bool, string, []byte, time.Time, time.Duration,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, sql.Named, nil:
		return true
	}
	if _, ok := value.(interface{ Value() (any, error) }); ok {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return false
	}
	return true
}
