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

// Package cache provides an in-process implementation of the
// distributed-cache contract. Deployments that share schema metadata
// across processes substitute a real backing store; single-process
// deployments and tests use this one.
package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wotjr1649/libdb/internal/types"
)

// Memory is a tag-aware, TTL'd in-process key-value store.
type Memory struct {
	mu      sync.Mutex
	entries *gocache.Cache
	// byTag maps tag -> set of keys; keysTags maps key -> its tags
	// so removal keeps the index trim.
	byTag    map[string]map[string]struct{}
	keysTags map[string][]string
}

var _ types.DistributedCache = (*Memory)(nil)

// NewMemory constructs an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries:  gocache.New(gocache.NoExpiration, time.Minute),
		byTag:    make(map[string]map[string]struct{}),
		keysTags: make(map[string][]string),
	}
}

// Get implements types.DistributedCache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// Set implements types.DistributedCache.
func (m *Memory) Set(
	_ context.Context, key string, value []byte, ttl time.Duration, tags ...string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unindex(key)
	m.entries.Set(key, value, ttl)
	m.keysTags[key] = tags
	for _, tag := range tags {
		set, ok := m.byTag[tag]
		if !ok {
			set = make(map[string]struct{})
			m.byTag[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// Remove implements types.DistributedCache.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unindex(key)
	m.entries.Delete(key)
	return nil
}

// RemoveByTag implements types.DistributedCache.
func (m *Memory) RemoveByTag(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.byTag[tag] {
		m.unindex(key)
		m.entries.Delete(key)
	}
	return nil
}

// unindex must be called with mu held.
func (m *Memory) unindex(key string) {
	for _, tag := range m.keysTags[key] {
		delete(m.byTag[tag], key)
		if len(m.byTag[tag]) == 0 {
			delete(m.byTag, tag)
		}
	}
	delete(m.keysTags, key)
}
