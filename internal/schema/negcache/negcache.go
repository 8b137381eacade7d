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

// Package negcache remembers, for a short while, which database
// objects do not exist so that repeated discovery attempts
// short-circuit without touching the server.
package negcache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// DefaultTTL is how long a "does not exist" verdict is believed.
const DefaultTTL = 30 * time.Second

// DefaultMaxEntries bounds the table before the overflow clear.
const DefaultMaxEntries = 1024

// Cache is a thread-safe negative cache keyed by
// {instance, kind, normalized name}. Values are prebuilt flyweight
// errors, so repeated misses allocate nothing.
type Cache struct {
	mu    sync.Mutex
	table *gocache.Cache
	ttl   time.Duration
	max   int
}

// New constructs a Cache. Non-positive arguments select the defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		table: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
		max:   maxEntries,
	}
}

// ConfigureMaxSize adjusts the overflow bound.
func (c *Cache) ConfigureMaxSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.max = n
	}
}

// Record stores the "does not exist" verdict for an object.
func (c *Cache) Record(instance ident.Instance, kind types.ObjectKind, name ident.ObjectName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Negative caches stay small; on overflow the whole table is
	// shed rather than tracking per-entry recency.
	if c.table.ItemCount() >= c.max {
		c.table.Flush()
	}
	c.table.SetDefault(key(instance, kind, name), &types.SchemaMissingError{
		Instance: instance,
		Kind:     kind,
		Name:     name.Raw(),
	})
}

// Check returns the recorded flyweight error if the object was
// recently found to be missing, else nil.
func (c *Cache) Check(instance ident.Instance, kind types.ObjectKind, name ident.ObjectName) error {
	if v, ok := c.table.Get(key(instance, kind, name)); ok {
		return v.(*types.SchemaMissingError)
	}
	return nil
}

// Forget drops a single verdict, for use after the object appears.
func (c *Cache) Forget(instance ident.Instance, kind types.ObjectKind, name ident.ObjectName) {
	c.table.Delete(key(instance, kind, name))
}

// Clear empties the table.
func (c *Cache) Clear() {
	c.table.Flush()
}

// Len returns the live entry count.
func (c *Cache) Len() int { return c.table.ItemCount() }

func key(instance ident.Instance, kind types.ObjectKind, name ident.ObjectName) string {
	return instance.Raw() + ":" + kind.String() + ":" + name.Raw()
}
