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

package snapshot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotjr1649/libdb/internal/util/ident"
)

const (
	instA = ident.Instance("aaaa")
	instB = ident.Instance("bbbb")
)

func name(s string) ident.ObjectName { return ident.ParseObjectName(s) }

func TestPutGet(t *testing.T) {
	s := New[int](0)
	_, ok := s.Get(instA, name("dbo.x"))
	require.False(t, ok)

	s.Put(instA, name("dbo.x"), 1)
	got, ok := s.Get(instA, name("dbo.x"))
	require.True(t, ok)
	assert.Equal(t, 1, got)

	// Case variations resolve to the same record.
	got, ok = s.Get(instA, name("[DBO].[X]"))
	require.True(t, ok)
	assert.Equal(t, 1, got)

	// Instances partition the space.
	_, ok = s.Get(instB, name("dbo.x"))
	require.False(t, ok)
}

func TestMergePublishesToL1(t *testing.T) {
	s := New[int](0)
	s.Put(instA, name("dbo.x"), 1)
	s.Put(instA, name("dbo.y"), 2)
	s.Merge()

	// After the merge, reads come from the frozen layer.
	got, ok := s.Get(instA, name("dbo.x"))
	require.True(t, ok)
	assert.Equal(t, 1, got)
	require.Equal(t, 2, s.Len())

	// A newer write lands in the overlay; reads keep serving the
	// frozen value until the next merge, which the write wins.
	s.Put(instA, name("dbo.x"), 10)
	got, _ = s.Get(instA, name("dbo.x"))
	assert.Equal(t, 1, got)
	s.Merge()
	got, _ = s.Get(instA, name("dbo.x"))
	assert.Equal(t, 10, got)
}

func TestAutoMergeThreshold(t *testing.T) {
	s := New[int](4)
	for i := 0; i < 16; i++ {
		s.Put(instA, name(fmt.Sprintf("dbo.t%02d", i)), i)
	}
	// Regardless of merge timing, every write stays visible.
	for i := 0; i < 16; i++ {
		got, ok := s.Get(instA, name(fmt.Sprintf("dbo.t%02d", i)))
		require.True(t, ok)
		require.Equal(t, i, got)
	}
}

func TestBulkLoadMergesOnce(t *testing.T) {
	s := New[int](2)
	s.BulkLoad(func() {
		for i := 0; i < 100; i++ {
			s.Put(instA, name(fmt.Sprintf("dbo.t%03d", i)), i)
		}
	})
	require.Equal(t, 100, s.Len())
	got, ok := s.Get(instA, name("dbo.t050"))
	require.True(t, ok)
	require.Equal(t, 50, got)
}

func TestClearInstance(t *testing.T) {
	s := New[int](0)
	s.Put(instA, name("dbo.x"), 1)
	s.Put(instB, name("dbo.x"), 2)
	s.Merge()
	s.Put(instA, name("dbo.y"), 3)

	s.ClearInstance(instA)
	_, ok := s.Get(instA, name("dbo.x"))
	require.False(t, ok)
	_, ok = s.Get(instA, name("dbo.y"))
	require.False(t, ok)

	got, ok := s.Get(instB, name("dbo.x"))
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestRemoveSingle(t *testing.T) {
	s := New[int](0)
	s.Put(instA, name("dbo.x"), 1)
	s.Put(instA, name("dbo.y"), 2)
	s.Merge()
	s.Remove(instA, name("dbo.x"))
	_, ok := s.Get(instA, name("dbo.x"))
	require.False(t, ok)
	_, ok = s.Get(instA, name("dbo.y"))
	require.True(t, ok)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New[int](8)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Put(instA, name(fmt.Sprintf("dbo.w%d_%03d", w, i)), i)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = s.Get(instA, name("dbo.w0_000"))
			}
		}()
	}
	wg.Wait()
	s.Merge()
	require.Equal(t, 800, s.Len())
}

func TestGetDoesNotAllocateComposite(t *testing.T) {
	s := New[int](0)
	n := name("dbo.hot_path")
	s.Put(instA, n, 1)
	s.Merge()
	allocs := testing.AllocsPerRun(100, func() {
		_, _ = s.Get(instA, n)
	})
	require.Zero(t, allocs)
}
