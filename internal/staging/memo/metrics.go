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

package memo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wotjr1649/libdb/internal/util/metrics"
)

var (
	memoGetDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memo_get_duration_seconds",
		Help:    "the length of time it took to successfully read a memo entry",
		Buckets: metrics.LatencyBuckets,
	})
	memoGetErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memo_get_errors_total",
		Help: "the number of times an error was encountered while reading memo entries",
	})
	memoPutDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memo_put_duration_seconds",
		Help:    "the length of time it took to successfully store a memo entry",
		Buckets: metrics.LatencyBuckets,
	})
	memoPutErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memo_put_errors_total",
		Help: "the number of times an error was encountered while storing memo entries",
	})
)
