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
	"math"
	"runtime"
	"time"

	"github.com/wotjr1649/libdb/internal/types"
)

// highMemoryLoad is the gauge reading above which batches shrink.
const highMemoryLoad = 0.8

// A batchSizer adapts the bulk-pipeline batch size toward a target
// flush duration, bounded by a floor and ceiling, shrinking under
// memory pressure or an explicit throttle signal.
type batchSizer struct {
	cur    int
	floor  int
	ceil   int
	target time.Duration
	gauge  types.MemoryGauge
}

func newBatchSizer(initial, floor, ceil int, target time.Duration, gauge types.MemoryGauge) *batchSizer {
	if initial <= 0 {
		initial = 5000
	}
	if floor <= 0 {
		floor = 100
	}
	if ceil <= 0 {
		ceil = 50000
	}
	if target <= 0 {
		target = time.Second
	}
	if gauge == nil {
		gauge = RuntimeGauge{}
	}
	return &batchSizer{
		cur:    clamp(initial, floor, ceil),
		floor:  floor,
		ceil:   ceil,
		target: target,
		gauge:  gauge,
	}
}

// Current returns the batch size to use for the next flush.
func (s *batchSizer) Current() int { return s.cur }

// Observe adjusts the batch size after a flush of rows that took
// elapsed. A throttle signal clamps to the floor.
func (s *batchSizer) Observe(rows int, elapsed time.Duration, throttled bool) int {
	switch {
	case throttled:
		s.cur = s.floor
	case s.gauge.Load() > highMemoryLoad:
		s.cur = clamp(s.cur/2, s.floor, s.ceil)
	case rows > 0 && elapsed > 0:
		// Move geometrically toward the size that would make a
		// flush take the target duration at the observed
		// throughput.
		throughput := float64(rows) / elapsed.Seconds()
		desired := throughput * s.target.Seconds()
		factor := math.Sqrt(desired / float64(s.cur))
		if factor < 0.5 {
			factor = 0.5
		} else if factor > 2 {
			factor = 2
		}
		s.cur = clamp(int(float64(s.cur)*factor), s.floor, s.ceil)
	}
	batchSizeGauge.Set(float64(s.cur))
	return s.cur
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// RuntimeGauge reports heap occupancy relative to the collector's
// next GC goal as the memory-load signal.
type RuntimeGauge struct{}

var _ types.MemoryGauge = RuntimeGauge{}

// Load implements types.MemoryGauge.
func (RuntimeGauge) Load() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.NextGC == 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / float64(ms.NextGC)
}
