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
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// ResumableQuery describes a cursor-paginated stream that can be
// restarted from its last persisted position.
type ResumableQuery[C, R any] struct {
	Instance ident.Instance
	// QueryKey identifies the stream in the state store.
	QueryKey string
	// BuildQuery renders the batch query for a cursor position. The
	// query must bound its own batch size (TOP ...).
	BuildQuery func(cursor C) string
	// CursorOf extracts the cursor from an emitted row.
	CursorOf func(row R) C
	// Initial is the starting cursor when the store has none.
	Initial C
	Opts    types.Options
}

// cursorEnvelope is the serialized form of a persisted cursor. The
// sequence number enforces monotonic writes: a slow persist must not
// clobber a newer position.
type cursorEnvelope[C any] struct {
	Seq    uint64 `json:"seq"`
	Cursor C      `json:"cursor"`
}

// cursorGuards serializes persists per (instance, queryKey).
var cursorGuards sync.Map // string -> *cursorGuard

type cursorGuard struct {
	mu  sync.Mutex
	seq uint64
}

func guardFor(instance ident.Instance, queryKey string) *cursorGuard {
	key := instance.Raw() + ":" + queryKey
	if g, ok := cursorGuards.Load(key); ok {
		return g.(*cursorGuard)
	}
	g, _ := cursorGuards.LoadOrStore(key, &cursorGuard{})
	return g.(*cursorGuard)
}

// QueryResumable lazily yields rows batch by batch, persisting the
// last cursor of every completed batch so a later stream resumes
// where this one left off. A zero-row batch ends the stream without
// a store write. With Options.DryRun set, the stream is empty and
// the store is never touched.
func QueryResumable[C, R any](
	ctx context.Context, ex *Executor, q ResumableQuery[C, R],
) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		if q.Opts.DryRun {
			return
		}
		if ex.memo == nil {
			yield(zero, errors.New("resumable queries require a state store"))
			return
		}

		cursor := q.Initial
		seq := uint64(0)
		if stored, storedSeq, ok, err := loadCursor[C](ctx, ex.memo, q.Instance, q.QueryKey); err != nil {
			yield(zero, err)
			return
		} else if ok {
			cursor, seq = stored, storedSeq
		}

		for {
			req := types.Request{
				Instance:    q.Instance,
				Command:     q.BuildQuery(cursor),
				CommandType: types.Text,
			}

			rows := 0
			var last C
			for row, err := range Query[R](ctx, ex, req, q.Opts) {
				if err != nil {
					yield(zero, err)
					return
				}
				rows++
				last = q.CursorOf(row)
				if !yield(row, nil) {
					// The consumer broke out mid-batch; an
					// incomplete batch persists nothing.
					return
				}
			}
			if rows == 0 {
				return
			}

			cursor = last
			seq++
			persistCursor(ex.memo, q.Instance, q.QueryKey, cursorEnvelope[C]{
				Seq:    seq,
				Cursor: last,
			})
		}
	}
}

func loadCursor[C any](
	ctx context.Context, memo types.Memo, instance ident.Instance, queryKey string,
) (C, uint64, bool, error) {
	var zero C
	buf, err := memo.Get(ctx, instance, memoKey(queryKey))
	if err != nil {
		return zero, 0, false, errors.Wrap(err, "could not load resumable cursor")
	}
	if buf == nil {
		return zero, 0, false, nil
	}
	var env cursorEnvelope[C]
	if err := json.Unmarshal(buf, &env); err != nil {
		return zero, 0, false, errors.Wrap(err, "stored cursor is undecodable")
	}
	return env.Cursor, env.Seq, true, nil
}

// persistCursor writes the envelope in the background. The per-key
// guard drops a persist that has been overtaken by a newer one.
func persistCursor[C any](
	memo types.Memo, instance ident.Instance, queryKey string, env cursorEnvelope[C],
) {
	go func() {
		guard := guardFor(instance, queryKey)
		guard.mu.Lock()
		defer guard.mu.Unlock()
		if env.Seq <= guard.seq {
			return
		}
		buf, err := json.Marshal(env)
		if err != nil {
			log.WithError(err).Warn("could not encode resumable cursor")
			return
		}
		// Fire-and-forget: persistence failures cost a replay, not
		// the stream.
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := memo.Put(ctx, instance, memoKey(queryKey), buf); err != nil {
			cursorPersistErrors.Inc()
			log.WithError(err).WithField("queryKey", queryKey).
				Warn("could not persist resumable cursor")
			return
		}
		guard.seq = env.Seq
	}()
}

const persistTimeout = 5 * time.Second

func memoKey(queryKey string) string { return "resumable:" + queryKey }
