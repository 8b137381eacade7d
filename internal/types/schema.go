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

package types

import (
	"reflect"
	"strings"
	"time"
)

// SQLType enumerates the SQL Server column and parameter types that
// the binder and validator understand.
type SQLType int

// SQLType values.
const (
	SQLUnknown SQLType = iota
	SQLBit
	SQLTinyInt
	SQLSmallInt
	SQLInt
	SQLBigInt
	SQLDecimal
	SQLNumeric
	SQLMoney
	SQLSmallMoney
	SQLFloat
	SQLReal
	SQLChar
	SQLVarChar
	SQLText
	SQLNChar
	SQLNVarChar
	SQLNText
	SQLBinary
	SQLVarBinary
	SQLImage
	SQLDate
	SQLTime
	SQLSmallDateTime
	SQLDateTime
	SQLDateTime2
	SQLDateTimeOffset
	SQLUniqueIdentifier
	SQLXML
	SQLVariant
	SQLStructured
	SQLRowVersion
)

var sqlTypeNames = map[string]SQLType{
	"bit":              SQLBit,
	"tinyint":          SQLTinyInt,
	"smallint":         SQLSmallInt,
	"int":              SQLInt,
	"bigint":           SQLBigInt,
	"decimal":          SQLDecimal,
	"numeric":          SQLNumeric,
	"money":            SQLMoney,
	"smallmoney":       SQLSmallMoney,
	"float":            SQLFloat,
	"real":             SQLReal,
	"char":             SQLChar,
	"varchar":          SQLVarChar,
	"text":             SQLText,
	"nchar":            SQLNChar,
	"nvarchar":         SQLNVarChar,
	"ntext":            SQLNText,
	"binary":           SQLBinary,
	"varbinary":        SQLVarBinary,
	"image":            SQLImage,
	"date":             SQLDate,
	"time":             SQLTime,
	"smalldatetime":    SQLSmallDateTime,
	"datetime":         SQLDateTime,
	"datetime2":        SQLDateTime2,
	"datetimeoffset":   SQLDateTimeOffset,
	"uniqueidentifier": SQLUniqueIdentifier,
	"xml":              SQLXML,
	"sql_variant":      SQLVariant,
	"table type":       SQLStructured,
	"timestamp":        SQLRowVersion,
	"rowversion":       SQLRowVersion,
}

var sqlTypeStrings = func() map[SQLType]string {
	ret := make(map[SQLType]string, len(sqlTypeNames))
	for name, t := range sqlTypeNames {
		// First writer wins for aliases; the map iteration order
		// doesn't matter for the canonical names used below.
		if _, dup := ret[t]; !dup {
			ret[t] = name
		}
	}
	ret[SQLDecimal] = "decimal"
	ret[SQLRowVersion] = "rowversion"
	return ret
}()

// ParseSQLType maps a catalog type name to its SQLType. Unrecognized
// names return SQLUnknown.
func ParseSQLType(name string) SQLType {
	return sqlTypeNames[strings.ToLower(strings.TrimSpace(name))]
}

// String returns the lower-case catalog name of the type.
func (t SQLType) String() string {
	if s, ok := sqlTypeStrings[t]; ok {
		return s
	}
	return "unknown"
}

// ParamDirection describes how a stored-procedure parameter flows.
type ParamDirection int

// ParamDirection values.
const (
	DirIn ParamDirection = iota
	DirOut
	DirInOut
	DirReturn
)

// SpParameter describes one stored-procedure parameter as declared in
// the database catalog.
type SpParameter struct {
	Name        string         `json:"n"`
	UDTTypeName string         `json:"udt,omitempty"`
	Size        int64          `json:"sz"`
	Type        SQLType        `json:"t"`
	Direction   ParamDirection `json:"d"`
	Precision   uint8          `json:"p"`
	Scale       uint8          `json:"s"`
	IsNullable  bool           `json:"null"`
	HasDefault  bool           `json:"def"`
}

// SpSchema is the immutable metadata record for one stored procedure.
// A zero VersionToken marks the "object not found" sentinel. Records
// are replaced, never mutated; LastChecked adjustments produce a copy.
type SpSchema struct {
	Name         string        `json:"name"`
	VersionToken int64         `json:"ver"`
	LastChecked  time.Time     `json:"at"`
	Parameters   []SpParameter `json:"params,omitempty"`
}

// NotFound reports whether this record is the not-found sentinel.
func (s *SpSchema) NotFound() bool { return s.VersionToken == 0 }

// Stale reports whether the record is due for a freshness check.
func (s *SpSchema) Stale(interval time.Duration, now time.Time) bool {
	return now.Sub(s.LastChecked) > interval
}

// WithLastChecked returns a copy with an adjusted check stamp.
func (s *SpSchema) WithLastChecked(at time.Time) *SpSchema {
	ret := *s
	ret.LastChecked = at
	return &ret
}

// TvpColumn describes one column of a table-valued-parameter type.
// NameHash is the precomputed case-insensitive hash of Name.
type TvpColumn struct {
	Name       string  `json:"n"`
	NameHash   uint64  `json:"h"`
	MaxLength  int64   `json:"len"`
	Ordinal    int     `json:"ord"`
	Type       SQLType `json:"t"`
	Precision  uint8   `json:"p"`
	Scale      uint8   `json:"s"`
	IsIdentity bool    `json:"id,omitempty"`
	IsComputed bool    `json:"comp,omitempty"`
	IsNullable bool    `json:"null"`
}

// TvpSchema is the immutable metadata record for one table type.
type TvpSchema struct {
	Name         string      `json:"name"`
	VersionToken int64       `json:"ver"`
	LastChecked  time.Time   `json:"at"`
	Columns      []TvpColumn `json:"cols,omitempty"`
}

// NotFound reports whether this record is the not-found sentinel.
func (s *TvpSchema) NotFound() bool { return s.VersionToken == 0 }

// Stale reports whether the record is due for a freshness check.
func (s *TvpSchema) Stale(interval time.Duration, now time.Time) bool {
	return now.Sub(s.LastChecked) > interval
}

// WithLastChecked returns a copy with an adjusted check stamp.
func (s *TvpSchema) WithLastChecked(at time.Time) *TvpSchema {
	ret := *s
	ret.LastChecked = at
	return &ret
}

// ColumnSchema is one row of the schema-description table attached to
// a row accessor and exposed through RowReader implementations.
type ColumnSchema struct {
	Name            string
	Ordinal         int
	DataType        reflect.Type
	AllowNull       bool
	Size            int64
	Precision       uint8
	Scale           uint8
	IsUnique        bool
	IsKey           bool
	IsRowVersion    bool
	IsLong          bool
	IsReadOnly      bool
	IsAutoIncrement bool
}
