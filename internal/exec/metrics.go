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

package exec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wotjr1649/libdb/internal/util/metrics"
)

var (
	queryDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exec_query_duration_seconds",
		Help:    "the length of time it took to run a query and drain its rows",
		Buckets: metrics.LatencyBuckets,
	}, metrics.InstanceLabels)
	queryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_query_errors_total",
		Help: "the number of queries that failed after resilience handling",
	}, metrics.InstanceLabels)
	selfHealTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_self_heal_total",
		Help: "the number of schema-drift self-healing retries",
	}, metrics.InstanceLabels)
	chaosInjections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_chaos_injections_total",
		Help: "the number of synthetic failures injected by the chaos wrapper",
	})
	bulkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_bulk_rows_total",
		Help: "the number of rows moved through the bulk paths",
	}, []string{"instance", "kind"})
	bulkDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exec_bulk_duration_seconds",
		Help:    "the length of time it took to complete a bulk operation",
		Buckets: metrics.LatencyBuckets,
	}, []string{"instance", "kind"})
	pipelineFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_pipeline_flushes_total",
		Help: "the number of bulk-pipeline batch flushes",
	})
	batchSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_pipeline_batch_size",
		Help: "the current adaptive batch size",
	})
	cursorPersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_cursor_persist_errors_total",
		Help: "the number of resumable-cursor persists that failed",
	})
)
