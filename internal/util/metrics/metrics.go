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

// Package metrics contains helpers and canonical label names so that
// the various packages within libdb export a consistent namespace.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets is a default collection of histogram buckets for
// latency-style metrics, expressed in seconds.
var LatencyBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

// BatchSizeBuckets is a default collection of histogram buckets for
// bulk batch sizes.
var BatchSizeBuckets = prometheus.ExponentialBuckets(1, 10, 7)

// InstanceLabels are the labels to use for instance-partitioned
// metric vectors.
var InstanceLabels = []string{"instance"}

// ObjectLabels are the labels to use for metrics partitioned by
// instance and schema object.
var ObjectLabels = []string{"instance", "object"}
