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

package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

const spVersionQuery = `
SELECT ISNULL((
  SELECT CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', p.modify_date) AS BIGINT)
    FROM sys.procedures p
    JOIN sys.schemas s ON s.schema_id = p.schema_id
   WHERE s.name = @schema AND p.name = @name), 0)`

const tvpVersionQuery = `
SELECT ISNULL((
  SELECT CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', o.modify_date) AS BIGINT)
    FROM sys.table_types tt
    JOIN sys.schemas s ON s.schema_id = tt.schema_id
    JOIN sys.objects o ON o.object_id = tt.type_table_object_id
   WHERE s.name = @schema AND tt.name = @name), 0)`

const spParametersQuery = `
SELECT prm.parameter_id, prm.name,
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
 WHERE s.name = @schema AND p.name = @name
 ORDER BY prm.parameter_id`

const tvpColumnsQuery = `
SELECT c.column_id, c.name,
       ISNULL(t.name, ''),
       c.precision, c.scale, c.max_length,
       c.is_nullable, c.is_identity, c.is_computed
  FROM sys.table_types tt
  JOIN sys.schemas s ON s.schema_id = tt.schema_id
  JOIN sys.columns c ON c.object_id = tt.type_table_object_id
  LEFT JOIN sys.types t ON t.user_type_id = c.user_type_id
 WHERE s.name = @schema AND tt.name = @name
 ORDER BY c.column_id`

// GetObjectVersion reads the stored procedure's current version
// token; 0 means the object does not exist.
func (r *Repo) GetObjectVersion(ctx context.Context, name ident.ObjectName) (int64, error) {
	return r.version(ctx, spVersionQuery, name)
}

// GetTvpVersion reads the table type's current version token; 0
// means the type does not exist.
func (r *Repo) GetTvpVersion(ctx context.Context, name ident.ObjectName) (int64, error) {
	return r.version(ctx, tvpVersionQuery, name)
}

func (r *Repo) version(ctx context.Context, query string, name ident.ObjectName) (int64, error) {
	var version int64
	err := r.pool.QueryRowContext(ctx, query,
		sql.Named("schema", name.Schema()),
		sql.Named("name", name.Name()),
	).Scan(&version)
	if err != nil {
		return 0, errors.Wrapf(err, "version probe for %s failed", name)
	}
	return version, nil
}

// GetSpMetadata loads the full metadata record for one stored
// procedure. A not-found object returns the sentinel record.
func (r *Repo) GetSpMetadata(ctx context.Context, name ident.ObjectName) (*types.SpSchema, error) {
	version, err := r.GetObjectVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	ret := &types.SpSchema{
		Name:         name.Raw(),
		VersionToken: version,
		LastChecked:  time.Now(),
	}
	if version == 0 {
		return ret, nil
	}

	rows, err := r.pool.QueryContext(ctx, spParametersQuery,
		sql.Named("schema", name.Schema()),
		sql.Named("name", name.Name()))
	if err != nil {
		return nil, errors.Wrapf(err, "parameter metadata for %s failed", name)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var p paramRow
		if err := rows.Scan(&p.ordinal, &p.name, &p.udt, &p.typeName,
			&p.precision, &p.scale, &p.maxLength,
			&p.isNullable, &p.isOutput, &p.hasDefault); err != nil {
			return nil, errors.WithStack(err)
		}
		ret.Parameters = append(ret.Parameters, p.toParameter())
	}
	return ret, errors.WithStack(rows.Err())
}

// GetTvpMetadata loads the full metadata record for one table type.
// A not-found type returns the sentinel record.
func (r *Repo) GetTvpMetadata(ctx context.Context, name ident.ObjectName) (*types.TvpSchema, error) {
	version, err := r.GetTvpVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	ret := &types.TvpSchema{
		Name:         name.Raw(),
		VersionToken: version,
		LastChecked:  time.Now(),
	}
	if version == 0 {
		return ret, nil
	}

	rows, err := r.pool.QueryContext(ctx, tvpColumnsQuery,
		sql.Named("schema", name.Schema()),
		sql.Named("name", name.Name()))
	if err != nil {
		return nil, errors.Wrapf(err, "column metadata for %s failed", name)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var c columnRow
		if err := rows.Scan(&c.ordinal, &c.name, &c.typeName,
			&c.precision, &c.scale, &c.maxLength,
			&c.isNullable, &c.isIdentity, &c.isComputed); err != nil {
			return nil, errors.WithStack(err)
		}
		ret.Columns = append(ret.Columns, c.toColumn(len(ret.Columns)))
	}
	return ret, errors.WithStack(rows.Err())
}
