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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotjr1649/libdb/internal/accessor"
	"github.com/wotjr1649/libdb/internal/types"
)

func strictBinder() *Binder {
	return New(Config{StrictNullChecks: true}, accessor.NewRegistry(0))
}

func param(name string, t types.SQLType, mods ...func(*types.SpParameter)) types.SpParameter {
	p := types.SpParameter{Name: "@" + name, Type: t, IsNullable: true}
	for _, mod := range mods {
		mod(&p)
	}
	return p
}

func notNull(p *types.SpParameter)  { p.IsNullable = false }
func withFacets(prec, scale uint8) func(*types.SpParameter) {
	return func(p *types.SpParameter) { p.Precision, p.Scale = prec, scale }
}

func spWith(params ...types.SpParameter) *types.SpSchema {
	return &types.SpSchema{
		Name:         "dbo.usp_test",
		VersionToken: 1,
		LastChecked:  time.Now(),
		Parameters:   params,
	}
}

func names(args []any) map[string]any {
	ret := make(map[string]any, len(args))
	for _, a := range args {
		if n, ok := a.(sql.NamedArg); ok {
			ret[n.Name] = n.Value
		}
	}
	return ret
}

func TestBindSpFromMap(t *testing.T) {
	b := strictBinder()
	bound, err := b.BindSp(
		spWith(param("UserId", types.SQLInt, notNull), param("Note", types.SQLNVarChar)),
		map[string]any{"UserId": 7, "note": "hi"})
	require.NoError(t, err)
	got := names(bound.Args)
	assert.Equal(t, 7, got["UserId"])
	assert.Equal(t, "hi", got["Note"])
}

type queryParams struct {
	UserId int32
	Note   *string
}

func TestBindSpFromStruct(t *testing.T) {
	b := strictBinder()
	bound, err := b.BindSp(
		spWith(param("UserId", types.SQLInt, notNull), param("Note", types.SQLNVarChar)),
		queryParams{UserId: 3})
	require.NoError(t, err)
	got := names(bound.Args)
	assert.Equal(t, int32(3), got["UserId"])
	assert.Nil(t, got["Note"])
}

func TestRequiredParameterMissing(t *testing.T) {
	b := strictBinder()
	_, err := b.BindSp(
		spWith(param("UserId", types.SQLInt, notNull)),
		map[string]any{})
	var pm *types.ParameterMissingError
	require.ErrorAs(t, err, &pm)
	assert.Equal(t, "@UserId", pm.Param)

	// Lenient mode binds the null and lets the server decide.
	lenient := New(Config{}, accessor.NewRegistry(0))
	_, err = lenient.BindSp(
		spWith(param("UserId", types.SQLInt, notNull)),
		map[string]any{})
	require.NoError(t, err)
}

func TestDecimalOverflow(t *testing.T) {
	b := strictBinder()
	// decimal(4,2) holds at most 99.99.
	_, err := b.BindSp(
		spWith(param("Amount", types.SQLDecimal, withFacets(4, 2))),
		map[string]any{"Amount": 100.00})
	var vo *types.ValueOverflowError
	require.ErrorAs(t, err, &vo)
	assert.Equal(t, "@Amount", vo.Param)

	_, err = b.BindSp(
		spWith(param("Amount", types.SQLDecimal, withFacets(4, 2))),
		map[string]any{"Amount": 99.99})
	require.NoError(t, err)
}

func TestLegacyDateTimeRange(t *testing.T) {
	b := strictBinder()
	ancient := time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := b.BindSp(
		spWith(param("At", types.SQLDateTime)),
		map[string]any{"At": ancient})
	var vo *types.ValueOverflowError
	require.ErrorAs(t, err, &vo)

	// datetime2 has no such floor.
	_, err = b.BindSp(
		spWith(param("At", types.SQLDateTime2)),
		map[string]any{"At": ancient})
	require.NoError(t, err)
}

func TestSmallIntRanges(t *testing.T) {
	b := strictBinder()
	_, err := b.BindSp(
		spWith(param("N", types.SQLTinyInt)),
		map[string]any{"N": 300})
	require.Error(t, err)

	_, err = b.BindSp(
		spWith(param("N", types.SQLSmallInt)),
		map[string]any{"N": -40000})
	require.Error(t, err)

	_, err = b.BindSp(
		spWith(param("N", types.SQLSmallInt)),
		map[string]any{"N": 40})
	require.NoError(t, err)
}

func TestJSONFallback(t *testing.T) {
	b := strictBinder()
	bound, err := b.BindSp(
		spWith(param("Payload", types.SQLNVarChar)),
		map[string]any{"Payload": map[string]any{"a": 1}})
	require.NoError(t, err)
	got := names(bound.Args)
	assert.JSONEq(t, `{"a":1}`, got["Payload"].(string))
}

type tvpRow struct {
	Age      int32
	UserName string `dblen:"50"`
}

type tvpParams struct {
	Users []tvpRow
}

func TestBindTVPFromSlice(t *testing.T) {
	b := strictBinder()
	sp := spWith(types.SpParameter{
		Name:        "@Users",
		Type:        types.SQLStructured,
		UDTTypeName: "core.UserTableType",
		IsNullable:  true,
	})
	bound, err := b.BindSp(sp, tvpParams{Users: []tvpRow{
		{Age: 20, UserName: "Bulk1"},
		{Age: 21, UserName: "Bulk2"},
	}})
	require.NoError(t, err)
	require.Empty(t, bound.Args)
	require.Len(t, bound.TVPs, 1)

	bt := bound.TVPs[0]
	assert.Equal(t, "Users", bt.ParamName)
	assert.Equal(t, "core.usertabletype", bt.TypeName.Raw())
	require.NotNil(t, bt.Accessors)
	assert.Equal(t, 2, bt.Reader.RowCount())
	require.NoError(t, bt.Reader.Close())
}

func TestTVPEncode(t *testing.T) {
	b := strictBinder()
	sp := spWith(types.SpParameter{
		Name:        "@Users",
		Type:        types.SQLStructured,
		UDTTypeName: "core.UserTableType",
		IsNullable:  true,
	})
	bound, err := b.BindSp(sp, tvpParams{Users: []tvpRow{{Age: 20, UserName: "Bulk1"}}})
	require.NoError(t, err)
	arg, err := bound.TVPs[0].Encode()
	require.NoError(t, err)
	named, ok := arg.(sql.NamedArg)
	require.True(t, ok)
	assert.Equal(t, "Users", named.Name)
}

func TestBindText(t *testing.T) {
	b := strictBinder()
	args, err := b.BindText(map[string]any{"id": 1})
	require.NoError(t, err)
	require.Len(t, args, 1)

	args, err = b.BindText([]any{1, "two"})
	require.NoError(t, err)
	require.Equal(t, []any{1, "two"}, args)

	args, err = b.BindText(nil)
	require.NoError(t, err)
	require.Nil(t, args)
}
