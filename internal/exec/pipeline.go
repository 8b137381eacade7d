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
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// PipelineConfig shapes a channel-fed bulk pipeline.
type PipelineConfig struct {
	// Keys is the primary-key column set for update and delete
	// pipelines.
	Keys []string
	// Columns is the update column set for update pipelines.
	Columns []string
	// BatchSize is the initial flush size; zero selects the
	// executor default.
	BatchSize int
	// MinBatchSize and MaxBatchSize bound the adaptive sizer.
	MinBatchSize int
	MaxBatchSize int
	// TargetFlushDuration is the flush duration the sizer steers
	// toward.
	TargetFlushDuration time.Duration
	// Gauge overrides the memory-pressure signal.
	Gauge types.MemoryGauge
	// Throttle, when signaled, clamps the next batch to the floor.
	Throttle <-chan struct{}
}

// BulkInsertPipeline consumes rows from the channel and bulk-inserts
// them in adaptively-sized batches. A failed flush aborts the
// pipeline; batches already flushed stay committed.
func BulkInsertPipeline[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows <-chan T, cfg PipelineConfig, opts types.Options,
) error {
	return runPipeline(ctx, ex, rows, cfg, func(batch []T) error {
		return BulkInsert(ctx, ex, instance, table, batch, opts)
	})
}

// BulkUpdatePipeline consumes rows from the channel and applies them
// in adaptively-sized staged MERGE batches.
func BulkUpdatePipeline[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows <-chan T, cfg PipelineConfig, opts types.Options,
) error {
	return runPipeline(ctx, ex, rows, cfg, func(batch []T) error {
		return BulkUpdate(ctx, ex, instance, table, batch, cfg.Keys, cfg.Columns, opts)
	})
}

// BulkDeletePipeline consumes rows from the channel and deletes the
// matching target rows in adaptively-sized batches.
func BulkDeletePipeline[T any](
	ctx context.Context, ex *Executor, instance ident.Instance,
	table string, rows <-chan T, cfg PipelineConfig, opts types.Options,
) error {
	return runPipeline(ctx, ex, rows, cfg, func(batch []T) error {
		return BulkDelete(ctx, ex, instance, table, batch, cfg.Keys, opts)
	})
}

func runPipeline[T any](
	ctx context.Context, ex *Executor, rows <-chan T, cfg PipelineConfig,
	flush func(batch []T) error,
) error {
	initial := cfg.BatchSize
	if initial <= 0 {
		initial = ex.cfg.BulkBatchSize
	}
	sizer := newBatchSizer(initial, cfg.MinBatchSize, cfg.MaxBatchSize,
		cfg.TargetFlushDuration, cfg.Gauge)

	batch := make([]T, 0, sizer.Current())
	doFlush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		if err := flush(batch); err != nil {
			return err
		}
		elapsed := time.Since(start)
		next := sizer.Observe(len(batch), elapsed, throttled(cfg.Throttle))
		pipelineFlushes.Inc()
		log.WithFields(log.Fields{
			"rows":    len(batch),
			"elapsed": elapsed,
			"next":    next,
		}).Trace("bulk pipeline flushed")
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case row, ok := <-rows:
			if !ok {
				return doFlush()
			}
			batch = append(batch, row)
			if len(batch) >= sizer.Current() {
				if err := doFlush(); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// throttled drains a pending throttle signal without blocking.
func throttled(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
