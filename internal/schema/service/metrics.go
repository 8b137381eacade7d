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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wotjr1649/libdb/internal/util/metrics"
)

var (
	snapshotHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_snapshot_hits_total",
		Help: "the number of lookups served from the in-process snapshot",
	}, metrics.InstanceLabels)
	negativeHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_negative_hits_total",
		Help: "the number of lookups short-circuited by the negative cache",
	}, metrics.InstanceLabels)
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_cache_hits_total",
		Help: "the number of distributed-cache hits",
	}, []string{"kind"})
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_cache_misses_total",
		Help: "the number of distributed-cache misses",
	}, []string{"kind"})
	refreshOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_refresh_outcomes_total",
		Help: "refresh results by outcome (refreshed, not_modified, missing, lock_timeout, error)",
	}, []string{"instance", "outcome"})
	preloadDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schema_preload_duration_seconds",
		Help:    "the length of time it took to warm the schema caches",
		Buckets: metrics.LatencyBuckets,
	}, metrics.InstanceLabels)
)
