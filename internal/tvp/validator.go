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
	"fmt"
	"reflect"
	"time"

	"github.com/golang-sql/civil"
	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/accessor"
	"github.com/wotjr1649/libdb/internal/types"
)

// Mode selects how structural validation failures surface.
type Mode int

const (
	// Strict fails the operation on any mismatch.
	Strict Mode = iota
	// LogOnly logs the mismatch and lets the operation proceed.
	LogOnly
)

// Validate compares the access plan against the database-side table
// type: column counts, case-insensitive names by precomputed hash,
// and type compatibility. A plan that has already validated is
// accepted immediately; success publishes the validated flag so later
// sends skip the work.
func Validate(acc *accessor.Accessors, schema *types.TvpSchema, mode Mode) error {
	if acc.Validated() {
		return nil
	}
	if err := validate(acc, schema); err != nil {
		if mode == Strict {
			return err
		}
		log.WithError(err).WithField("tvp", schema.Name).
			Warn("tvp structural validation failed; continuing in log-only mode")
	}
	acc.MarkValidated()
	return nil
}

func validate(acc *accessor.Accessors, schema *types.TvpSchema) error {
	if len(acc.Props) != len(schema.Columns) {
		return &types.SchemaValidationError{
			TvpName: schema.Name,
			Reason: fmt.Sprintf("column count mismatch: row type has %d, table type has %d",
				len(acc.Props), len(schema.Columns)),
		}
	}

	if !hashesEqual(acc.Props, schema.Columns) {
		// Scalar pass to name the exact ordinal.
		for i := range acc.Props {
			if acc.Props[i].NameHash != schema.Columns[i].NameHash {
				return &types.SchemaValidationError{
					TvpName: schema.Name,
					Reason: fmt.Sprintf("column name mismatch: row type %q vs table type %q",
						acc.Props[i].Name, schema.Columns[i].Name),
					ColumnName: schema.Columns[i].Name,
					Ordinal:    i,
				}
			}
		}
	}

	for i := range acc.Props {
		declared := acc.Schema[i].DataType
		if !compatible(declared, schema.Columns[i].Type) {
			return &types.SchemaValidationError{
				TvpName: schema.Name,
				Reason: fmt.Sprintf("type mismatch: %s is not assignable to %s",
					declared, schema.Columns[i].Type),
				ColumnName: schema.Columns[i].Name,
				Ordinal:    i,
			}
		}
	}
	return nil
}

// hashesEqual compares the name-hash vectors eight lanes per block
// with an early out, mirroring the wide-register compare on platforms
// that have one.
func hashesEqual(props []accessor.Prop, cols []types.TvpColumn) bool {
	i := 0
	for ; i+8 <= len(props); i += 8 {
		acc := (props[i].NameHash ^ cols[i].NameHash) |
			(props[i+1].NameHash ^ cols[i+1].NameHash) |
			(props[i+2].NameHash ^ cols[i+2].NameHash) |
			(props[i+3].NameHash ^ cols[i+3].NameHash) |
			(props[i+4].NameHash ^ cols[i+4].NameHash) |
			(props[i+5].NameHash ^ cols[i+5].NameHash) |
			(props[i+6].NameHash ^ cols[i+6].NameHash) |
			(props[i+7].NameHash ^ cols[i+7].NameHash)
		if acc != 0 {
			return false
		}
	}
	for ; i < len(props); i++ {
		if props[i].NameHash != cols[i].NameHash {
			return false
		}
	}
	return true
}

// compatFamilies is the fixed assignability table from Go types to
// SQL Server type families.
var compatFamilies = map[reflect.Kind][]types.SQLType{
	reflect.Bool: {types.SQLBit},
	reflect.Int8: {types.SQLTinyInt, types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Uint8: {types.SQLTinyInt, types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Int16: {types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Uint16: {types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Int32: {types.SQLTinyInt, types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Uint32: {types.SQLInt, types.SQLBigInt},
	reflect.Int: {types.SQLTinyInt, types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Int64: {types.SQLTinyInt, types.SQLSmallInt, types.SQLInt, types.SQLBigInt},
	reflect.Uint64: {types.SQLBigInt},
	reflect.Float32: {types.SQLReal, types.SQLFloat},
	reflect.Float64: {
		types.SQLFloat, types.SQLReal, types.SQLDecimal, types.SQLNumeric,
		types.SQLMoney, types.SQLSmallMoney,
	},
	reflect.String: {
		types.SQLChar, types.SQLVarChar, types.SQLText,
		types.SQLNChar, types.SQLNVarChar, types.SQLNText,
		types.SQLXML, types.SQLUniqueIdentifier,
	},
}

var compatSpecial = map[reflect.Type][]types.SQLType{
	reflect.TypeOf(time.Time{}): {
		types.SQLDate, types.SQLTime, types.SQLSmallDateTime, types.SQLDateTime,
		types.SQLDateTime2, types.SQLDateTimeOffset,
	},
	reflect.TypeOf(civil.Date{}):      {types.SQLDate},
	reflect.TypeOf(civil.Time{}):      {types.SQLTime},
	reflect.TypeOf(time.Duration(0)):  {types.SQLTime},
	reflect.TypeOf([]byte(nil)): {
		types.SQLBinary, types.SQLVarBinary, types.SQLImage, types.SQLRowVersion,
	},
}

func compatible(declared reflect.Type, sqlType types.SQLType) bool {
	if allowed, ok := compatSpecial[declared]; ok {
		return contains(allowed, sqlType)
	}
	if allowed, ok := compatFamilies[declared.Kind()]; ok {
		return contains(allowed, sqlType)
	}
	// Unrecognized Go types travel as JSON text.
	return sqlType == types.SQLNVarChar || sqlType == types.SQLNText
}

func contains(allowed []types.SQLType, t types.SQLType) bool {
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
