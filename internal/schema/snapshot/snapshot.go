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

// Package snapshot holds the in-process schema cache. Reads are
// served from an immutable L1 map that is swapped atomically; writes
// land in a small L2 overlay that a single merger folds into L1 once
// it grows past a threshold. Reads that hit L1 therefore never
// contend with writers, and always observe a complete L1; a miss
// falls back to L2 under the writers' mutex.
package snapshot

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wotjr1649/libdb/internal/util/ident"
)

// DefaultMergeThreshold is the L2 size that triggers a background
// merge.
const DefaultMergeThreshold = 64

// key avoids composite-string allocation on the read path: lookups
// build the struct from parts the caller already holds.
type key struct {
	instance string
	schema   string
	name     string
}

// A Snapshot is a two-layer cache of schema records of type V.
type Snapshot[V any] struct {
	l1        atomic.Pointer[map[key]V]
	mu        sync.Mutex
	l2        map[key]V
	threshold int
	merging   atomic.Bool
	bulkDepth atomic.Int32
}

// New constructs an empty Snapshot. A non-positive threshold selects
// DefaultMergeThreshold.
func New[V any](threshold int) *Snapshot[V] {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	s := &Snapshot[V]{
		l2:        make(map[key]V),
		threshold: threshold,
	}
	empty := make(map[key]V)
	s.l1.Store(&empty)
	return s
}

// Get looks up a record. The composite key is assembled on the stack
// from the already-canonical parts; no string is allocated.
func (s *Snapshot[V]) Get(instance ident.Instance, name ident.ObjectName) (V, bool) {
	k := key{instance: instance.Raw(), schema: name.Schema(), name: name.Name()}
	if v, ok := (*s.l1.Load())[k]; ok {
		return v, true
	}
	s.mu.Lock()
	v, ok := s.l2[k]
	if !ok {
		// A merge may have moved the entry into L1 since the
		// lock-free read above.
		v, ok = (*s.l1.Load())[k]
	}
	s.mu.Unlock()
	return v, ok
}

// Put upserts a record into the L2 overlay, possibly scheduling a
// background merge.
func (s *Snapshot[V]) Put(instance ident.Instance, name ident.ObjectName, v V) {
	k := key{instance: instance.Raw(), schema: name.Schema(), name: name.Name()}
	s.mu.Lock()
	s.l2[k] = v
	trigger := len(s.l2) >= s.threshold
	s.mu.Unlock()
	if trigger && s.bulkDepth.Load() == 0 {
		s.scheduleMerge()
	}
}

// Remove drops a record from both layers. The L1 copy is rebuilt
// without the key.
func (s *Snapshot[V]) Remove(instance ident.Instance, name ident.ObjectName) {
	k := key{instance: instance.Raw(), schema: name.Schema(), name: name.Name()}
	s.rebuild(func(existing key) bool { return existing != k })
}

// ClearInstance drops every record belonging to the instance from
// both layers.
func (s *Snapshot[V]) ClearInstance(instance ident.Instance) {
	raw := instance.Raw()
	s.rebuild(func(existing key) bool { return existing.instance != raw })
}

// ClearPrefix drops every record whose object name starts with the
// given prefix on the instance.
func (s *Snapshot[V]) ClearPrefix(instance ident.Instance, prefix string) {
	raw := instance.Raw()
	prefix = ident.Lower(prefix)
	s.rebuild(func(existing key) bool {
		if existing.instance != raw {
			return true
		}
		return !strings.HasPrefix(existing.schema+"."+existing.name, prefix)
	})
}

// BulkLoad suppresses automatic merging while fn runs, then performs
// one merge on the outermost exit. Scopes may nest.
func (s *Snapshot[V]) BulkLoad(fn func()) {
	s.bulkDepth.Add(1)
	defer func() {
		if s.bulkDepth.Add(-1) == 0 {
			s.Merge()
		}
	}()
	fn()
}

// Merge synchronously folds L2 into a fresh frozen L1.
func (s *Snapshot[V]) Merge() {
	if !s.merging.CompareAndSwap(false, true) {
		return
	}
	defer s.merging.Store(false)
	s.mergeLocked()
}

// scheduleMerge starts the single background merger unless one is
// already running.
func (s *Snapshot[V]) scheduleMerge() {
	if !s.merging.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.merging.Store(false)
		s.mergeLocked()
	}()
}

func (s *Snapshot[V]) mergeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.l2) == 0 {
		return
	}
	old := *s.l1.Load()
	next := make(map[key]V, len(old)+len(s.l2))
	for k, v := range old {
		next[k] = v
	}
	// L2 entries are newer than anything in L1.
	for k, v := range s.l2 {
		next[k] = v
	}
	s.l1.Store(&next)
	s.l2 = make(map[key]V)
}

// rebuild swaps in an L1 holding the union of both layers filtered
// by keep, and empties L2.
func (s *Snapshot[V]) rebuild(keep func(key) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := *s.l1.Load()
	next := make(map[key]V, len(old))
	for k, v := range old {
		if keep(k) {
			next[k] = v
		}
	}
	for k, v := range s.l2 {
		if keep(k) {
			next[k] = v
		}
	}
	s.l1.Store(&next)
	s.l2 = make(map[key]V)
}

// Len returns the number of distinct cached keys.
func (s *Snapshot[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l1 := *s.l1.Load()
	n := len(l1)
	for k := range s.l2 {
		if _, ok := l1[k]; !ok {
			n++
		}
	}
	return n
}
