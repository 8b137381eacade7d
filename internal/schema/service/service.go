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

// Package service orchestrates the schema-metadata caches: the
// negative cache, the in-process snapshot, the distributed cache,
// and the epoch-based cross-process invalidation protocol. Refreshes
// are striped so that one object refreshes at most once at a time,
// and every refresh failure fails open by extending the staleness of
// what is already held.
package service

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/wotjr1649/libdb/internal/schema/epoch"
	"github.com/wotjr1649/libdb/internal/schema/negcache"
	"github.com/wotjr1649/libdb/internal/schema/repo"
	"github.com/wotjr1649/libdb/internal/schema/snapshot"
	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// stripeCount is the number of refresh semaphores. Distinct objects
// hash onto distinct stripes and refresh in parallel; the same
// object serializes.
const stripeCount = 1024

// record is the shared surface of the schema record types, closed
// over the concrete pointer type so that staleness adjustments stay
// typed.
type record[R any] interface {
	NotFound() bool
	Stale(time.Duration, time.Time) bool
	WithLastChecked(time.Time) R
}

// A Catalog reads schema metadata from the target database. It is
// implemented by repo.Repo.
type Catalog interface {
	GetObjectVersion(ctx context.Context, name ident.ObjectName) (int64, error)
	GetTvpVersion(ctx context.Context, name ident.ObjectName) (int64, error)
	GetSpMetadata(ctx context.Context, name ident.ObjectName) (*types.SpSchema, error)
	GetTvpMetadata(ctx context.Context, name ident.ObjectName) (*types.TvpSchema, error)
	GetAllMetadata(ctx context.Context, schemas []string) (*repo.Catalog, error)
}

var _ Catalog = (*repo.Repo)(nil)

// A Service resolves stored-procedure and table-type metadata for
// one target instance.
type Service struct {
	cfg     Config
	repo    Catalog
	cache   types.DistributedCache
	epochs  *epoch.Coordinator
	neg     *negcache.Cache
	stripes [stripeCount]*semaphore.Weighted

	sp  *kind[*types.SpSchema]
	tvp *kind[*types.TvpSchema]
}

// New wires a Service over its collaborators and registers the
// cache-purge hooks with the flush coordinator.
func New(
	cfg Config,
	catalog Catalog,
	distributed types.DistributedCache,
	epochs *epoch.Coordinator,
) (*Service, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg,
		repo:   catalog,
		cache:  distributed,
		epochs: epochs,
		neg:    negcache.New(cfg.NegativeTTL, cfg.NegativeMaxEntries),
	}
	for i := range s.stripes {
		s.stripes[i] = semaphore.NewWeighted(1)
	}

	s.sp = &kind[*types.SpSchema]{
		svc:      s,
		objKind:  types.KindSp,
		snap:     snapshot.New[*types.SpSchema](cfg.SnapshotMergeThreshold),
		version:  catalog.GetObjectVersion,
		load:     catalog.GetSpMetadata,
		sentinel: func(name ident.ObjectName, now time.Time) *types.SpSchema {
			return &types.SpSchema{Name: name.Raw(), LastChecked: now}
		},
	}
	s.tvp = &kind[*types.TvpSchema]{
		svc:      s,
		objKind:  types.KindTvp,
		snap:     snapshot.New[*types.TvpSchema](cfg.SnapshotMergeThreshold),
		version:  catalog.GetTvpVersion,
		load:     catalog.GetTvpMetadata,
		sentinel: func(name ident.ObjectName, now time.Time) *types.TvpSchema {
			return &types.TvpSchema{Name: name.Raw(), LastChecked: now}
		},
	}

	epochs.OnFlushLocal(func(_ context.Context, instance ident.Instance) error {
		s.sp.snap.ClearInstance(instance)
		s.tvp.snap.ClearInstance(instance)
		s.neg.Clear()
		return nil
	})
	epochs.OnFlushRemote(func(ctx context.Context, instance ident.Instance) error {
		return s.cache.RemoveByTag(ctx, tagInstance(instance))
	})
	return s, nil
}

// GetSpSchema resolves the metadata record for a stored procedure.
func (s *Service) GetSpSchema(
	ctx context.Context, rawName string, instance ident.Instance,
) (*types.SpSchema, error) {
	return s.sp.get(ctx, ident.ParseObjectName(rawName), instance)
}

// GetTvpSchema resolves the metadata record for a table type.
func (s *Service) GetTvpSchema(
	ctx context.Context, rawName string, instance ident.Instance,
) (*types.TvpSchema, error) {
	return s.tvp.get(ctx, ident.ParseObjectName(rawName), instance)
}

// InvalidateSpSchema purges one stored procedure from every cache
// layer so the next lookup reads the catalog.
func (s *Service) InvalidateSpSchema(
	ctx context.Context, rawName string, instance ident.Instance,
) error {
	return s.sp.invalidate(ctx, ident.ParseObjectName(rawName), instance)
}

// InvalidateTvpSchema purges one table type from every cache layer.
func (s *Service) InvalidateTvpSchema(
	ctx context.Context, rawName string, instance ident.Instance,
) error {
	return s.tvp.invalidate(ctx, ident.ParseObjectName(rawName), instance)
}

// FlushSchema advances the instance epoch and purges the local
// snapshot, the negative cache, and the distributed entries for the
// instance, then fires the registered external hooks.
func (s *Service) FlushSchema(ctx context.Context, instance ident.Instance) error {
	return s.epochs.Flush(ctx, instance)
}

// CheckAndSync delegates to the epoch coordinator.
func (s *Service) CheckAndSync(ctx context.Context, instance ident.Instance) (bool, error) {
	return s.epochs.CheckAndSync(ctx, instance)
}

func tagInstance(instance ident.Instance) string {
	return "Schema:" + instance.Raw()
}

// A kind binds the lookup algorithm to one schema-object family.
type kind[R record[R]] struct {
	svc      *Service
	objKind  types.ObjectKind
	snap     *snapshot.Snapshot[R]
	version  func(context.Context, ident.ObjectName) (int64, error)
	load     func(context.Context, ident.ObjectName) (R, error)
	sentinel func(ident.ObjectName, time.Time) R
}

func (k *kind[R]) cacheKey(instance ident.Instance, name ident.ObjectName) string {
	return "Sch:" + instance.Raw() + ":" + k.objKind.String() + ":" + name.Raw()
}

func (k *kind[R]) tags(instance ident.Instance) []string {
	return []string{
		tagInstance(instance),
		tagInstance(instance) + ":" + k.objKind.String(),
	}
}

// get implements the lookup algorithm: negative cache, snapshot,
// distributed cache with loader, staleness refresh, sentinel
// handling, snapshot publish.
func (k *kind[R]) get(
	ctx context.Context, name ident.ObjectName, instance ident.Instance,
) (R, error) {
	var zero R
	if name.Empty() {
		return zero, errors.New("object name must not be empty")
	}
	if err := k.svc.neg.Check(instance, k.objKind, name); err != nil {
		negativeHits.WithLabelValues(instance.Raw()).Inc()
		return zero, err
	}

	now := time.Now()
	if rec, ok := k.snap.Get(instance, name); ok {
		if !rec.Stale(k.svc.cfg.RefreshInterval, now) {
			snapshotHits.WithLabelValues(instance.Raw()).Inc()
			return rec, nil
		}
	}

	if k.svc.cfg.DisableCaching {
		rec, err := k.load(ctx, name)
		if err != nil {
			return zero, err
		}
		return k.finish(instance, name, rec)
	}

	key := k.cacheKey(instance, name)
	rec, have := k.cacheGet(ctx, key)
	if !have {
		loaded, err := k.loadAndCache(ctx, key, name, instance)
		if err != nil {
			// Fail open when something usable is still held.
			if held, ok := k.snap.Get(instance, name); ok {
				refreshOutcomes.WithLabelValues(instance.Raw(), "error").Inc()
				return k.holdOff(held, k.svc.cfg.ErrorHoldoff, instance, name), nil
			}
			return zero, err
		}
		rec = loaded
	}

	if rec.Stale(k.svc.cfg.RefreshInterval, time.Now()) {
		rec = k.refreshSafe(ctx, key, rec, name, instance)
	}
	return k.finish(instance, name, rec)
}

// finish routes the sentinel to the negative cache and publishes
// everything else to the snapshot.
func (k *kind[R]) finish(instance ident.Instance, name ident.ObjectName, rec R) (R, error) {
	var zero R
	if rec.NotFound() {
		k.svc.neg.Record(instance, k.objKind, name)
		return zero, &types.SchemaMissingError{
			Instance: instance,
			Kind:     k.objKind,
			Name:     name.Raw(),
		}
	}
	k.snap.Put(instance, name, rec)
	return rec, nil
}

func (k *kind[R]) cacheGet(ctx context.Context, key string) (R, bool) {
	var zero R
	buf, ok, err := k.svc.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("distributed cache read failed")
		return zero, false
	}
	if !ok {
		cacheMisses.WithLabelValues(k.objKind.String()).Inc()
		return zero, false
	}
	var rec R
	if err := json.Unmarshal(buf, &rec); err != nil {
		log.WithError(err).WithField("key", key).Warn("discarding undecodable cache entry")
		return zero, false
	}
	cacheHits.WithLabelValues(k.objKind.String()).Inc()
	return rec, true
}

func (k *kind[R]) cachePut(
	ctx context.Context, key string, rec R, instance ident.Instance,
) {
	buf, err := json.Marshal(rec)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("could not encode schema record")
		return
	}
	// Jittered TTL spreads expiry so a fleet does not stampede the
	// catalog at the same instant.
	ttl := time.Duration(float64(k.svc.cfg.CacheTTL) * (0.9 + 0.3*rand.Float64()))
	if err := k.svc.cache.Set(ctx, key, buf, ttl, k.tags(instance)...); err != nil {
		log.WithError(err).WithField("key", key).Warn("distributed cache write failed")
	}
}

func (k *kind[R]) loadAndCache(
	ctx context.Context, key string, name ident.ObjectName, instance ident.Instance,
) (R, error) {
	var zero R
	rec, err := k.load(ctx, name)
	if err != nil {
		return zero, err
	}
	k.cachePut(ctx, key, rec, instance)
	return rec, nil
}

// holdOff republishes the record with its staleness deadline pushed
// d into the future, deferring the next refresh attempt.
func (k *kind[R]) holdOff(
	rec R, d time.Duration, instance ident.Instance, name ident.ObjectName,
) R {
	extended := rec.WithLastChecked(time.Now().Add(d - k.svc.cfg.RefreshInterval))
	k.snap.Put(instance, name, extended)
	return extended
}

// refreshSafe re-verifies a stale record under the object's refresh
// stripe. It never fails: a stripe timeout or refresh error extends
// the current record's staleness instead.
func (k *kind[R]) refreshSafe(
	ctx context.Context, key string, current R, name ident.ObjectName, instance ident.Instance,
) R {
	stripe := k.svc.stripes[xxhash.Sum64String(key)%stripeCount]

	acquireCtx, cancel := context.WithTimeout(ctx, k.svc.cfg.LockTimeout)
	err := stripe.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		refreshOutcomes.WithLabelValues(instance.Raw(), "lock_timeout").Inc()
		return k.holdOff(current, k.svc.cfg.LockHoldoff, instance, name)
	}
	defer stripe.Release(1)

	now := time.Now()
	// Another caller may have completed the refresh while this one
	// waited on the stripe.
	if held, ok := k.snap.Get(instance, name); ok &&
		!held.Stale(k.svc.cfg.RefreshInterval, now) {
		return held
	}
	version, err := k.version(ctx, name)
	if err != nil {
		refreshOutcomes.WithLabelValues(instance.Raw(), "error").Inc()
		log.WithError(err).WithFields(log.Fields{
			"instance": instance,
			"object":   name,
		}).Warn("schema refresh failed; extending staleness")
		return k.holdOff(current, k.svc.cfg.ErrorHoldoff, instance, name)
	}

	if version == 0 {
		sentinel := k.sentinel(name, now)
		k.cachePut(ctx, key, sentinel, instance)
		refreshOutcomes.WithLabelValues(instance.Raw(), "missing").Inc()
		return sentinel
	}

	if version == k.versionToken(current) {
		touched := current.WithLastChecked(now)
		k.cachePut(ctx, key, touched, instance)
		// Publish before the stripe releases so waiters observe
		// the refresh instead of re-probing.
		k.snap.Put(instance, name, touched)
		refreshOutcomes.WithLabelValues(instance.Raw(), "not_modified").Inc()
		return touched
	}

	loaded, err := k.loadAndCache(ctx, key, name, instance)
	if err != nil {
		refreshOutcomes.WithLabelValues(instance.Raw(), "error").Inc()
		log.WithError(err).WithFields(log.Fields{
			"instance": instance,
			"object":   name,
		}).Warn("schema reload failed; extending staleness")
		return k.holdOff(current, k.svc.cfg.ErrorHoldoff, instance, name)
	}
	if !loaded.NotFound() {
		k.snap.Put(instance, name, loaded)
	}
	refreshOutcomes.WithLabelValues(instance.Raw(), "refreshed").Inc()
	return loaded
}

// versionToken reads the token through the concrete record type.
func (k *kind[R]) versionToken(rec R) int64 {
	switch t := any(rec).(type) {
	case *types.SpSchema:
		return t.VersionToken
	case *types.TvpSchema:
		return t.VersionToken
	}
	return 0
}

// invalidate purges a single object from the snapshot, the
// distributed cache, and the negative cache.
func (k *kind[R]) invalidate(
	ctx context.Context, name ident.ObjectName, instance ident.Instance,
) error {
	k.snap.Remove(instance, name)
	k.svc.neg.Forget(instance, k.objKind, name)
	if err := k.svc.cache.Remove(ctx, k.cacheKey(instance, name)); err != nil {
		return errors.Wrapf(err, "could not invalidate %s %s", k.objKind, name)
	}
	return nil
}
