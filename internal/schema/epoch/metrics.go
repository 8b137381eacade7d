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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wotjr1649/libdb/internal/util/metrics"
)

var (
	flushDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epoch_flush_duration_seconds",
		Help:    "the length of time it took to flush schema caches for an instance",
		Buckets: metrics.LatencyBuckets,
	}, metrics.InstanceLabels)
	flushErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epoch_flush_errors_total",
		Help: "the number of flushes that failed or completed with failed invalidations",
	}, metrics.InstanceLabels)
	syncCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epoch_sync_total",
		Help: "the number of times this process purged caches after observing a newer epoch",
	}, metrics.InstanceLabels)
)
