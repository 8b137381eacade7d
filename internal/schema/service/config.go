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

package service

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config contains the user-visible configuration of the schema
// service.
type Config struct {
	// RefreshInterval is how long a cached record is trusted before
	// the version token is re-verified.
	RefreshInterval time.Duration
	// CacheTTL is the base lifetime of distributed-cache entries;
	// each write applies multiplicative jitter.
	CacheTTL time.Duration
	// DisableCaching bypasses every cache layer and reads the
	// catalog directly.
	DisableCaching bool
	// NegativeTTL is how long a "does not exist" verdict is held.
	NegativeTTL time.Duration
	// NegativeMaxEntries bounds the negative cache.
	NegativeMaxEntries int
	// LockTimeout bounds the wait for a refresh stripe.
	LockTimeout time.Duration
	// LockHoldoff is how long a refresh is deferred after a stripe
	// wait timed out.
	LockHoldoff time.Duration
	// ErrorHoldoff is how long a refresh is deferred after a
	// refresh failure.
	ErrorHoldoff time.Duration
	// SnapshotMergeThreshold is the L2 size that triggers a merge.
	SnapshotMergeThreshold int
}

// Bind registers flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.DurationVar(&c.RefreshInterval, "schemaRefreshInterval", 5*time.Minute,
		"how long cached schema metadata is trusted before re-verification")
	flags.DurationVar(&c.CacheTTL, "schemaCacheTTL", 15*time.Minute,
		"base lifetime of distributed schema-cache entries")
	flags.BoolVar(&c.DisableCaching, "schemaCacheDisabled", false,
		"bypass schema caches and always read the catalog")
	flags.DurationVar(&c.NegativeTTL, "schemaNegativeTTL", 30*time.Second,
		"how long a missing object is remembered as missing")
	flags.IntVar(&c.NegativeMaxEntries, "schemaNegativeMaxEntries", 1024,
		"maximum negative-cache entries before the table is shed")
	flags.DurationVar(&c.LockTimeout, "schemaLockTimeout", 5*time.Second,
		"how long a refresh waits for its stripe before failing safe")
	flags.DurationVar(&c.LockHoldoff, "schemaLockHoldoff", 10*time.Second,
		"how long a refresh is deferred after a stripe timeout")
	flags.DurationVar(&c.ErrorHoldoff, "schemaErrorHoldoff", time.Minute,
		"how long a refresh is deferred after a refresh failure")
	flags.IntVar(&c.SnapshotMergeThreshold, "schemaMergeThreshold", 64,
		"snapshot overlay size that triggers a background merge")
}

// Preflight validates the configuration and applies defaults.
func (c *Config) Preflight() error {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 3 * c.RefreshInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.LockHoldoff <= 0 {
		c.LockHoldoff = 10 * time.Second
	}
	if c.ErrorHoldoff <= 0 {
		c.ErrorHoldoff = time.Minute
	}
	if c.CacheTTL < c.RefreshInterval {
		return errors.New("schemaCacheTTL must not be shorter than schemaRefreshInterval")
	}
	return nil
}
