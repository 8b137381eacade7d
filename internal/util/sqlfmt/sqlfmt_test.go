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

package sqlfmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpolate(t *testing.T) {
	sql, args, err := Interpolate(
		"SELECT * FROM users WHERE id > {} AND name = {}", 42, "alice")
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM users WHERE id > @p1 AND name = @p2", sql)
	require.Len(t, args, 2)
	require.Equal(t, "p1", args[0].Name)
	require.Equal(t, 42, args[0].Value)
	require.Equal(t, "p2", args[1].Name)
	require.Equal(t, "alice", args[1].Value)
}

func TestInterpolateNoSlots(t *testing.T) {
	sql, args, err := Interpolate("SELECT 1")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", sql)
	require.Empty(t, args)
}

func TestInterpolateArityMismatch(t *testing.T) {
	_, _, err := Interpolate("SELECT {}", 1, 2)
	require.Error(t, err)

	_, _, err = Interpolate("SELECT {} + {}", 1)
	require.Error(t, err)
}
