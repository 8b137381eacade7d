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

// Package repo reads stored-procedure and table-type metadata from
// the SQL Server catalog views.
package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// A Repo issues catalog queries against one target instance.
type Repo struct {
	pool *types.TargetPool
}

// New constructs a Repo over the pool.
func New(pool *types.TargetPool) *Repo {
	return &Repo{pool: pool}
}

// Instance identifies the target the repo reads from.
func (r *Repo) Instance() ident.Instance { return r.pool.Instance }

// Catalog is the result of one bulk discovery batch.
type Catalog struct {
	SpVersions   map[string]int64
	SpParameters map[string][]types.SpParameter
	TvpVersions  map[string]int64
	TvpColumns   map[string][]types.TvpColumn
	FoundSchemas []string
}

// The discovery batch produces five result sets, in order: SP
// versions, SP parameters, TVP versions, TVP columns, and the
// database schemas that actually exist. The version token is the
// catalog modify-time projected onto a monotonic integer axis.
const allMetadataQuery = `
DECLARE @names TABLE (name SYSNAME NOT NULL);
INSERT INTO @names SELECT LTRIM(RTRIM(value)) FROM STRING_SPLIT(@schemaList, ',');

SELECT s.name, p.name,
       CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', p.modify_date) AS BIGINT)
  FROM sys.procedures p
  JOIN sys.schemas s ON s.schema_id = p.schema_id
 WHERE s.name IN (SELECT name FROM @names);

SELECT s.name, p.name, prm.parameter_id, prm.name,
       ISNULL(us.name + '.' + ut.name, ''),
       ISNULL(t.name, ''),
       prm.precision, prm.scale, prm.max_length,
       prm.is_nullable, prm.is_output, prm.has_default_value
  FROM sys.procedures p
  JOIN sys.schemas s ON s.schema_id = p.schema_id
  JOIN sys.parameters prm ON prm.object_id = p.object_id
  LEFT JOIN sys.types t ON t.user_type_id = prm.user_type_id AND t.is_table_type = 0
  LEFT JOIN sys.table_types ut ON ut.user_type_id = prm.user_type_id
  LEFT JOIN sys.schemas us ON us.schema_id = ut.schema_id
 WHERE s.name IN (SELECT name FROM @names)
 ORDER BY p.object_id, prm.parameter_id;

SELECT s.name, tt.name,
       CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', o.modify_date) AS BIGINT)
  FROM sys.table_types tt
  JOIN sys.schemas s ON s.schema_id = tt.schema_id
  JOIN sys.objects o ON o.object_id = tt.type_table_object_id
 WHERE s.name IN (SELECT name FROM @names);

SELECT s.name, tt.name, c.column_id, c.name,
       ISNULL(t.name, ''),
       c.precision, c.scale, c.max_length,
       c.is_nullable, c.is_identity, c.is_computed
  FROM sys.table_types tt
  JOIN sys.schemas s ON s.schema_id = tt.schema_id
  JOIN sys.columns c ON c.object_id = tt.type_table_object_id
  LEFT JOIN sys.types t ON t.user_type_id = c.user_type_id
 WHERE s.name IN (SELECT name FROM @names)
 ORDER BY tt.user_type_id, c.column_id;

SELECT s.name FROM sys.schemas s
 WHERE s.name IN (SELECT name FROM @names);
`

// GetAllMetadata runs the bulk discovery batch for the listed
// database schemas.
func (r *Repo) GetAllMetadata(ctx context.Context, schemas []string) (*Catalog, error) {
	rows, err := r.pool.QueryContext(ctx, allMetadataQuery,
		sql.Named("schemaList", strings.Join(schemas, ",")))
	if err != nil {
		return nil, errors.Wrap(err, "schema discovery batch failed")
	}
	defer func() { _ = rows.Close() }()

	ret := &Catalog{
		SpVersions:   make(map[string]int64),
		SpParameters: make(map[string][]types.SpParameter),
		TvpVersions:  make(map[string]int64),
		TvpColumns:   make(map[string][]types.TvpColumn),
	}

	// Result set 1: SP versions.
	for rows.Next() {
		var schemaName, name string
		var version int64
		if err := rows.Scan(&schemaName, &name, &version); err != nil {
			return nil, errors.WithStack(err)
		}
		ret.SpVersions[ident.NewObjectName(schemaName, name).Raw()] = version
	}
	if err := advance(rows, "sp parameters"); err != nil {
		return nil, err
	}

	// Result set 2: SP parameters.
	for rows.Next() {
		var schemaName, name string
		var p paramRow
		if err := rows.Scan(&schemaName, &name, &p.ordinal, &p.name, &p.udt,
			&p.typeName, &p.precision, &p.scale, &p.maxLength,
			&p.isNullable, &p.isOutput, &p.hasDefault); err != nil {
			return nil, errors.WithStack(err)
		}
		key := ident.NewObjectName(schemaName, name).Raw()
		ret.SpParameters[key] = append(ret.SpParameters[key], p.toParameter())
	}
	if err := advance(rows, "tvp versions"); err != nil {
		return nil, err
	}

	// Result set 3: TVP versions.
	for rows.Next() {
		var schemaName, name string
		var version int64
		if err := rows.Scan(&schemaName, &name, &version); err != nil {
			return nil, errors.WithStack(err)
		}
		ret.TvpVersions[ident.NewObjectName(schemaName, name).Raw()] = version
	}
	if err := advance(rows, "tvp columns"); err != nil {
		return nil, err
	}

	// Result set 4: TVP columns.
	for rows.Next() {
		var schemaName, name string
		var c columnRow
		if err := rows.Scan(&schemaName, &name, &c.ordinal, &c.name, &c.typeName,
			&c.precision, &c.scale, &c.maxLength,
			&c.isNullable, &c.isIdentity, &c.isComputed); err != nil {
			return nil, errors.WithStack(err)
		}
		key := ident.NewObjectName(schemaName, name).Raw()
		ret.TvpColumns[key] = append(ret.TvpColumns[key], c.toColumn(len(ret.TvpColumns[key])))
	}
	if err := advance(rows, "found schemas"); err != nil {
		return nil, err
	}

	// Result set 5: schemas that exist.
	for rows.Next() {
		var schemaName string
		if err := rows.Scan(&schemaName); err != nil {
			return nil, errors.WithStack(err)
		}
		ret.FoundSchemas = append(ret.FoundSchemas, ident.Lower(schemaName))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return ret, nil
}

func advance(rows *sql.Rows, next string) error {
	if err := rows.Err(); err != nil {
		return errors.WithStack(err)
	}
	if !rows.NextResultSet() {
		return errors.Errorf("discovery batch ended before the %s result set", next)
	}
	return nil
}

type paramRow struct {
	ordinal    int
	name       string
	udt        string
	typeName   string
	precision  uint8
	scale      uint8
	maxLength  int64
	isNullable bool
	isOutput   bool
	hasDefault bool
}

func (p *paramRow) toParameter() types.SpParameter {
	direction := types.DirIn
	switch {
	case p.ordinal == 0:
		direction = types.DirReturn
	case p.isOutput:
		direction = types.DirInOut
	}
	t := types.ParseSQLType(p.typeName)
	if p.udt != "" {
		t = types.SQLStructured
	}
	return types.SpParameter{
		Name:        p.name,
		UDTTypeName: p.udt,
		Size:        p.maxLength,
		Type:        t,
		Direction:   direction,
		Precision:   p.precision,
		Scale:       p.scale,
		IsNullable:  p.isNullable,
		HasDefault:  p.hasDefault,
	}
}

type columnRow struct {
	ordinal    int
	name       string
	typeName   string
	precision  uint8
	scale      uint8
	maxLength  int64
	isNullable bool
	isIdentity bool
	isComputed bool
}

func (c *columnRow) toColumn(ordinal int) types.TvpColumn {
	return types.TvpColumn{
		Name:       c.name,
		NameHash:   ident.HashInsensitive(c.name),
		MaxLength:  c.maxLength,
		Ordinal:    ordinal,
		Type:       types.ParseSQLType(c.typeName),
		Precision:  c.precision,
		Scale:      c.scale,
		IsIdentity: c.isIdentity,
		IsComputed: c.isComputed,
		IsNullable: c.isNullable,
	}
}
