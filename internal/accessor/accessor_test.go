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

package accessor

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type baseRow struct {
	CreatedAt time.Time
}

type userRow struct {
	baseRow
	UserName string  `dblen:"50"`
	Email    *string `dblen:"256"`
	Age      int32
	Balance  float64 `dbprec:"10,2"`
	Secret   string  `db:"-"`
	ID       int64   `db:"UserId"`
}

func (userRow) TableTypeName() string { return "core.UserTableType" }

func lookupUser(t *testing.T) *Accessors {
	t.Helper()
	acc, err := NewRegistry(0).Lookup(reflect.TypeOf(userRow{}))
	require.NoError(t, err)
	return acc
}

func TestOrdinalOrdering(t *testing.T) {
	acc := lookupUser(t)

	// Byte-wise sort by column name is the contract shared with
	// code generation.
	names := make([]string, len(acc.Props))
	for i := range acc.Props {
		names[i] = acc.Props[i].Name
	}
	require.Equal(t, []string{"Age", "Balance", "CreatedAt", "Email", "UserId", "UserName"}, names)

	for i := range acc.Props {
		ord, ok := acc.Ordinal(acc.Props[i].Name)
		require.True(t, ok)
		assert.Equal(t, i, ord)
	}
	// Case-insensitive lookups land on the same ordinal.
	upper, ok := acc.Ordinal("USERNAME")
	require.True(t, ok)
	lower, ok := acc.Ordinal("username")
	require.True(t, ok)
	assert.Equal(t, upper, lower)
}

func TestArraysAligned(t *testing.T) {
	acc := lookupUser(t)
	require.Len(t, acc.Getters, len(acc.Props))
	require.Len(t, acc.Schema, len(acc.Props))
	require.Len(t, acc.Ordinals, len(acc.Props))
	require.Equal(t, "core.UserTableType", acc.TypeName)
}

func TestGetters(t *testing.T) {
	acc := lookupUser(t)
	email := "alice@test.com"
	row := userRow{
		UserName: "Alice",
		Email:    &email,
		Age:      30,
		ID:       7,
	}

	byName := func(name string) any {
		ord, ok := acc.Ordinal(name)
		require.True(t, ok)
		return acc.Getters[ord](&row)
	}
	assert.Equal(t, "Alice", byName("UserName"))
	assert.Equal(t, "alice@test.com", byName("Email"))
	assert.Equal(t, int32(30), byName("Age"))
	assert.Equal(t, int64(7), byName("UserId"))

	row.Email = nil
	assert.Nil(t, byName("Email"))
}

func TestSchemaTable(t *testing.T) {
	acc := lookupUser(t)
	schemaOf := func(name string) (ret struct {
		null  bool
		size  int64
		prec  uint8
		scale uint8
	}) {
		ord, ok := acc.Ordinal(name)
		require.True(t, ok)
		col := acc.Schema[ord]
		ret.null = col.AllowNull
		ret.size = col.Size
		ret.prec = col.Precision
		ret.scale = col.Scale
		return ret
	}

	userName := schemaOf("UserName")
	assert.False(t, userName.null)
	assert.Equal(t, int64(50), userName.size)

	email := schemaOf("Email")
	assert.True(t, email.null)
	assert.Equal(t, int64(256), email.size)

	balance := schemaOf("Balance")
	assert.Equal(t, uint8(10), balance.prec)
	assert.Equal(t, uint8(2), balance.scale)

	created := schemaOf("CreatedAt")
	assert.Equal(t, uint8(0), created.prec)
	assert.Equal(t, uint8(7), created.scale)

	age := schemaOf("Age")
	assert.Equal(t, int64(-1), age.size)
}

func TestIgnoredColumnsExcluded(t *testing.T) {
	acc := lookupUser(t)
	_, ok := acc.Ordinal("Secret")
	require.False(t, ok)
}

type dupRow struct {
	Name  string
	Name2 string `db:"name"`
}

func TestDuplicateColumnFatal(t *testing.T) {
	_, err := NewRegistry(0).Lookup(reflect.TypeOf(dupRow{}))
	require.Error(t, err)
}

type emptyRow struct {
	hidden int //nolint:unused
}

func TestNoColumnsFatal(t *testing.T) {
	_, err := NewRegistry(0).Lookup(reflect.TypeOf(emptyRow{}))
	require.Error(t, err)
}

func TestRegisterIdempotent(t *testing.T) {
	reg := NewRegistry(0)
	built, err := reflectFor(reflect.TypeOf(userRow{}))
	require.NoError(t, err)

	require.NoError(t, reg.Register(built))
	// Registering an equal plan again is a no-op; the runtime
	// fallback must agree with the registered one.
	again, err := reflectFor(reflect.TypeOf(userRow{}))
	require.NoError(t, err)
	require.NoError(t, reg.Register(again))

	got, err := For[userRow](reg)
	require.NoError(t, err)
	require.Same(t, built, got)
}

func TestRegisterConflict(t *testing.T) {
	reg := NewRegistry(0)
	built, err := reflectFor(reflect.TypeOf(userRow{}))
	require.NoError(t, err)
	require.NoError(t, reg.Register(built))

	conflicting := *built
	conflicting.TypeName = "dbo.Other"
	require.Error(t, reg.Register(&conflicting))
}

func TestValidatedFlagMonotonic(t *testing.T) {
	acc := lookupUser(t)
	require.False(t, acc.Validated())
	acc.MarkValidated()
	require.True(t, acc.Validated())
	acc.MarkValidated()
	require.True(t, acc.Validated())
}

func TestCacheOverflowSheds(t *testing.T) {
	reg := NewRegistry(2)
	_, err := For[userRow](reg)
	require.NoError(t, err)
	_, err = For[baseRow](reg)
	require.NoError(t, err)
	// The third type trips the bound and sheds the table; lookups
	// still succeed afterwards.
	type extraRow struct{ A int }
	_, err = reg.Lookup(reflect.TypeOf(extraRow{}))
	require.NoError(t, err)
	_, err = For[userRow](reg)
	require.NoError(t, err)
}
