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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, m.Remove(ctx, "k"))
	_, ok, _ = m.Get(ctx, "k")
	require.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)
	_, ok, _ := m.Get(ctx, "k")
	require.False(t, ok)
}

func TestRemoveByTag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute, "Schema:x", "Schema:x:SP"))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute, "Schema:x"))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), time.Minute, "Schema:y"))

	require.NoError(t, m.RemoveByTag(ctx, "Schema:x"))
	_, ok, _ := m.Get(ctx, "a")
	require.False(t, ok)
	_, ok, _ = m.Get(ctx, "b")
	require.False(t, ok)
	_, ok, _ = m.Get(ctx, "c")
	require.True(t, ok)

	// Re-tagging a key replaces its previous tags.
	require.NoError(t, m.Set(ctx, "c", []byte("3"), time.Minute, "Schema:z"))
	require.NoError(t, m.RemoveByTag(ctx, "Schema:y"))
	_, ok, _ = m.Get(ctx, "c")
	require.True(t, ok)
}
