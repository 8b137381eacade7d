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

package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectName(t *testing.T) {
	tcs := []struct {
		raw    string
		schema string
		name   string
	}{
		{"usp_Get_User", "dbo", "usp_get_user"},
		{"core.usp_Get_User", "core", "usp_get_user"},
		{"[core].[usp_Get_User]", "core", "usp_get_user"},
		{"[dbo].[Strange.Name]", "dbo", "strange.name"},
		{"  dbo.Trimmed  ", "dbo", "trimmed"},
	}
	for _, tc := range tcs {
		t.Run(tc.raw, func(t *testing.T) {
			parsed := ParseObjectName(tc.raw)
			assert.Equal(t, tc.schema, parsed.Schema())
			assert.Equal(t, tc.name, parsed.Name())
			assert.Equal(t, tc.schema+"."+tc.name, parsed.Raw())
		})
	}
}

func TestObjectNameQuoted(t *testing.T) {
	require.Equal(t, "[core].[usp_x]", ParseObjectName("Core.USP_X").Quoted())
}

func TestHashInsensitive(t *testing.T) {
	require.Equal(t, HashInsensitive("UserName"), HashInsensitive("username"))
	require.Equal(t, HashInsensitive("USERNAME"), HashInsensitive("username"))
	require.NotEqual(t, HashInsensitive("username"), HashInsensitive("usernamx"))

	// Long names cross the internal chunk boundary.
	long := ""
	for i := 0; i < 10; i++ {
		long += "AbCdEfGhIj"
	}
	require.Equal(t, HashInsensitive(long), HashInsensitive(Lower(long)))
}

func TestNewInstanceNormalizes(t *testing.T) {
	a := NewInstance("Server=db;Database=App;User Id=sa")
	b := NewInstance("database=app; server=db ;user id=sa")
	require.Equal(t, a, b)
	require.NotEqual(t, a, NewInstance("server=other;database=app;user id=sa"))
	require.Len(t, a.Raw(), 16)
}

func TestLowerAvoidsAllocationWhenCanonical(t *testing.T) {
	s := "already_lower"
	require.Equal(t, s, Lower(s))
	allocs := testing.AllocsPerRun(100, func() { _ = Lower(s) })
	require.Zero(t, allocs)
	require.Equal(t, "mixed_case", Lower("Mixed_Case"))
}
