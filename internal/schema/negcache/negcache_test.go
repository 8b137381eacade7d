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

package negcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

const instance = ident.Instance("inst1")

func TestRecordAndCheck(t *testing.T) {
	c := New(time.Minute, 0)
	name := ident.ParseObjectName("dbo.usp_missing")

	require.NoError(t, c.Check(instance, types.KindSp, name))
	c.Record(instance, types.KindSp, name)

	err := c.Check(instance, types.KindSp, name)
	require.Error(t, err)
	var missing *types.SchemaMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "dbo.usp_missing", missing.Name)
	assert.Equal(t, types.KindSp, missing.Kind)

	// The flyweight is reused across checks.
	again := c.Check(instance, types.KindSp, name)
	require.Same(t, err, again)

	// Different kind, same name: distinct entry.
	require.NoError(t, c.Check(instance, types.KindTvp, name))
}

func TestExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 0)
	name := ident.ParseObjectName("dbo.usp_missing")
	c.Record(instance, types.KindSp, name)
	require.Error(t, c.Check(instance, types.KindSp, name))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, c.Check(instance, types.KindSp, name))
}

func TestForgetAndClear(t *testing.T) {
	c := New(time.Minute, 0)
	a := ident.ParseObjectName("dbo.a")
	b := ident.ParseObjectName("dbo.b")
	c.Record(instance, types.KindSp, a)
	c.Record(instance, types.KindSp, b)

	c.Forget(instance, types.KindSp, a)
	require.NoError(t, c.Check(instance, types.KindSp, a))
	require.Error(t, c.Check(instance, types.KindSp, b))

	c.Clear()
	require.NoError(t, c.Check(instance, types.KindSp, b))
	require.Zero(t, c.Len())
}

func TestOverflowShedsTable(t *testing.T) {
	c := New(time.Minute, 3)
	for _, n := range []string{"dbo.a", "dbo.b", "dbo.c"} {
		c.Record(instance, types.KindSp, ident.ParseObjectName(n))
	}
	require.Equal(t, 3, c.Len())
	// The next record overflows the bound and clears everything
	// first.
	c.Record(instance, types.KindSp, ident.ParseObjectName("dbo.d"))
	require.Equal(t, 1, c.Len())
	require.NoError(t, c.Check(instance, types.KindSp, ident.ParseObjectName("dbo.a")))
	require.Error(t, c.Check(instance, types.KindSp, ident.ParseObjectName("dbo.d")))
}
