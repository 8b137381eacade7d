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

package epoch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
	"github.com/wotjr1649/libdb/internal/util/stopper"
)

// An InvalidateFunc purges one instance's entries from a local or
// external cache.
type InvalidateFunc func(ctx context.Context, instance ident.Instance) error

// The Coordinator pairs the shared epoch store with this process's
// last-observed mirror and the cache-invalidation hooks that fire on
// a flush.
type Coordinator struct {
	store Store

	mu      sync.Mutex
	mirrors map[ident.Instance]uint64

	hookMu sync.Mutex
	local  []InvalidateFunc
	remote []InvalidateFunc
}

// NewCoordinator constructs a Coordinator over the store.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		store:   store,
		mirrors: make(map[ident.Instance]uint64),
	}
}

// OnFlushLocal registers a local-cache purge hook.
func (c *Coordinator) OnFlushLocal(fn InvalidateFunc) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.local = append(c.local, fn)
}

// OnFlushRemote registers an external-cache purge hook. Remote hooks
// are best-effort: one failure does not stop the others.
func (c *Coordinator) OnFlushRemote(fn InvalidateFunc) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.remote = append(c.remote, fn)
}

// Get reads the shared epoch.
func (c *Coordinator) Get(ctx context.Context, instance ident.Instance) (uint64, error) {
	return c.store.Get(ctx, instance)
}

// Flush advances the shared epoch, purges local caches for the
// instance, and fires the external invalidation hooks. The flush is
// reported successful only if every hook succeeded.
func (c *Coordinator) Flush(ctx context.Context, instance ident.Instance) error {
	start := time.Now()
	next, err := c.store.Increment(ctx, instance)
	if err != nil {
		flushErrors.WithLabelValues(instance.Raw()).Inc()
		return errors.Wrap(err, "could not advance epoch")
	}

	c.mu.Lock()
	c.mirrors[instance] = next
	c.mu.Unlock()

	var firstErr error
	for _, fn := range c.snapshotHooks(&c.local) {
		if err := fn(ctx, instance); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, fn := range c.snapshotHooks(&c.remote) {
		if err := fn(ctx, instance); err != nil {
			log.WithError(err).WithField("instance", instance).
				Warn("external cache invalidation failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	flushDurations.WithLabelValues(instance.Raw()).Observe(time.Since(start).Seconds())
	if firstErr != nil {
		flushErrors.WithLabelValues(instance.Raw()).Inc()
		return errors.Wrap(firstErr, "flush completed with failed invalidations")
	}
	log.WithFields(log.Fields{
		"instance": instance,
		"epoch":    next,
	}).Debug("flushed schema caches")
	return nil
}

// CheckAndSync compares the shared epoch against the local mirror.
// If another process has flushed, the local caches are purged, the
// mirror advances, and true is returned. The mirror is monotone: an
// observed epoch is never re-processed.
func (c *Coordinator) CheckAndSync(ctx context.Context, instance ident.Instance) (bool, error) {
	shared, err := c.store.Get(ctx, instance)
	if err != nil {
		return false, errors.Wrap(err, "could not read shared epoch")
	}

	c.mu.Lock()
	mirror := c.mirrors[instance]
	if shared <= mirror {
		c.mu.Unlock()
		return false, nil
	}
	c.mirrors[instance] = shared
	c.mu.Unlock()

	for _, fn := range c.snapshotHooks(&c.local) {
		if err := fn(ctx, instance); err != nil {
			log.WithError(err).WithField("instance", instance).
				Warn("local cache purge failed during epoch sync")
		}
	}
	syncCount.WithLabelValues(instance.Raw()).Inc()
	log.WithFields(log.Fields{
		"instance": instance,
		"from":     mirror,
		"to":       shared,
	}).Debug("synced to newer epoch")
	return true, nil
}

func (c *Coordinator) snapshotHooks(which *[]InvalidateFunc) []InvalidateFunc {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	ret := make([]InvalidateFunc, len(*which))
	copy(ret, *which)
	return ret
}

// Watch polls CheckAndSync for the listed instances at the given
// interval until the stopper begins stopping. An empty instance list
// disables the watcher; a process that is not the maintenance leader
// skips polling until it becomes one.
func (c *Coordinator) Watch(
	ctx *stopper.Context, instances []ident.Instance,
	interval time.Duration, leader types.LeaderHint,
) {
	if len(instances) == 0 {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if leader == nil {
		leader = types.StaticLeader(true)
	}
	ctx.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !leader.IsLeader() {
					continue
				}
				for _, instance := range instances {
					if _, err := c.CheckAndSync(ctx, instance); err != nil {
						log.WithError(err).WithField("instance", instance).
							Warn("epoch watcher sync failed")
					}
				}
			case <-ctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
}
