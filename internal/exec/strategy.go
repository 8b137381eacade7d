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

// Package exec translates logical database requests into driver
// commands and runs them under the resilience pipeline, the
// interceptor chain, and the schema service's self-healing protocol.
package exec

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/resilience"
	"github.com/wotjr1649/libdb/internal/schema/service"
	"github.com/wotjr1649/libdb/internal/types"
)

// An Operation runs one or more commands against the supplied
// querier. The querier is only valid for the duration of the call.
type Operation func(ctx context.Context, q types.TargetQuerier) error

// A StreamOp issues a query whose rows outlive the call. Ownership
// of the rows passes to the returned Stream.
type StreamOp func(ctx context.Context, q types.TargetQuerier) (*sql.Rows, error)

// A Stream couples driver rows with the connection that produced
// them. Closing the stream closes both.
type Stream struct {
	Rows    *sql.Rows
	release func()
	closed  bool
}

// Close releases the rows and the owning connection. It is safe to
// call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.Rows != nil {
		err = s.Rows.Close()
	}
	if s.release != nil {
		s.release()
	}
	return errors.WithStack(err)
}

// A Strategy decides how a request acquires its connection and what
// failure handling surrounds it.
type Strategy interface {
	Execute(ctx context.Context, req types.Request, opts types.Options, op Operation) error
	ExecuteStream(ctx context.Context, req types.Request, opts types.Options, run StreamOp) (*Stream, error)
}

// Resilient is the default strategy: each attempt acquires a fresh
// pooled connection and runs under the shared resilience pipeline.
// A schema-drift failure triggers one self-healing retry: the cached
// metadata is invalidated, reloaded, and the operation re-runs once
// outside the pipeline.
type Resilient struct {
	pool     *types.TargetPool
	pipeline *resilience.Pipeline
	schema   *service.Service
}

var _ Strategy = (*Resilient)(nil)

// NewResilient constructs the strategy. The schema service may be
// nil, which disables self-healing.
func NewResilient(
	pool *types.TargetPool, pipeline *resilience.Pipeline, schema *service.Service,
) *Resilient {
	return &Resilient{pool: pool, pipeline: pipeline, schema: schema}
}

// Execute implements Strategy.
func (s *Resilient) Execute(
	ctx context.Context, req types.Request, opts types.Options, op Operation,
) error {
	err := s.pipeline.Execute(ctx, opts, func(ctx context.Context, try resilience.Try) error {
		return s.withConn(ctx, try, op)
	})
	if err == nil || !resilience.IsSchemaDrift(err) {
		return err
	}
	return s.selfHeal(ctx, req, err, op)
}

// ExecuteStream implements Strategy. The per-attempt timeout is
// disabled so the returned rows can be consumed at the caller's
// pace; the connection is owned by the Stream.
func (s *Resilient) ExecuteStream(
	ctx context.Context, req types.Request, opts types.Options, run StreamOp,
) (*Stream, error) {
	opts.CommandTimeout = resilience.NoTimeout
	var ret *Stream
	err := s.pipeline.Execute(ctx, opts, func(ctx context.Context, try resilience.Try) error {
		stream, err := s.openStream(ctx, try, run)
		if err == nil {
			ret = stream
		}
		return err
	})
	if err != nil && resilience.IsSchemaDrift(err) &&
		s.schema != nil && req.CommandType == types.StoredProcedure {
		if healErr := s.healMetadata(ctx, req); healErr != nil {
			return nil, healErr
		}
		selfHealTotal.WithLabelValues(req.Instance.Raw()).Inc()
		ret, err = s.openStream(ctx, resilience.Try{Attempt: 1}, run)
	}
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// openStream acquires a connection and hands it to run, transferring
// ownership to the returned Stream.
func (s *Resilient) openStream(
	ctx context.Context, try resilience.Try, run StreamOp,
) (*Stream, error) {
	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if try.AfterDeadlock {
		s.elevateDeadlockPriority(ctx, conn)
	}
	rows, err := run(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// A nil rows result means an interceptor suppressed the query;
	// the connection has nothing left to own.
	if rows == nil {
		_ = conn.Close()
		return &Stream{}, nil
	}
	return &Stream{Rows: rows, release: func() { _ = conn.Close() }}, nil
}

func (s *Resilient) withConn(ctx context.Context, try resilience.Try, op Operation) error {
	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() { _ = conn.Close() }()
	if try.AfterDeadlock {
		s.elevateDeadlockPriority(ctx, conn)
	}
	return op(ctx, conn)
}

// elevateDeadlockPriority asks the server to prefer other victims on
// the retry following a lost deadlock.
func (s *Resilient) elevateDeadlockPriority(ctx context.Context, conn *sql.Conn) {
	if _, err := conn.ExecContext(ctx, "SET DEADLOCK_PRIORITY HIGH"); err != nil {
		log.WithError(err).Debug("could not elevate deadlock priority")
	}
}

// selfHeal purges and reloads the procedure's metadata, then re-runs
// the operation exactly once outside the pipeline.
func (s *Resilient) selfHeal(
	ctx context.Context, req types.Request, driftErr error, op Operation,
) error {
	if s.schema == nil || req.CommandType != types.StoredProcedure {
		return driftErr
	}
	if err := s.healMetadata(ctx, req); err != nil {
		return err
	}
	selfHealTotal.WithLabelValues(req.Instance.Raw()).Inc()
	return s.withConn(ctx, resilience.Try{Attempt: 1}, op)
}

// healMetadata purges and reloads the procedure's metadata after a
// drift failure.
func (s *Resilient) healMetadata(ctx context.Context, req types.Request) error {
	log.WithFields(log.Fields{
		"instance": req.Instance,
		"command":  req.Command,
	}).Info("schema drift detected; invalidating metadata and retrying once")

	if err := s.schema.InvalidateSpSchema(ctx, req.Command, req.Instance); err != nil {
		log.WithError(err).Warn("schema invalidation failed during self-heal")
	}
	if _, err := s.schema.GetSpSchema(ctx, req.Command, req.Instance); err != nil {
		// The object is genuinely gone; the reload error is more
		// precise than the drift error.
		return err
	}
	return nil
}

// Transactional executes against a caller-supplied transaction. No
// retry, no breaker, no self-healing: the caller owns the
// transaction's fate.
type Transactional struct {
	tx types.TargetQuerier
}

var _ Strategy = (*Transactional)(nil)

// NewTransactional wraps a transaction (or any querier whose
// lifecycle the caller controls).
func NewTransactional(tx types.TargetQuerier) *Transactional {
	return &Transactional{tx: tx}
}

// Execute implements Strategy.
func (s *Transactional) Execute(
	ctx context.Context, _ types.Request, opts types.Options, op Operation,
) error {
	ctx, cancel := transactionalCtx(ctx, opts)
	defer cancel()
	return op(ctx, s.tx)
}

// ExecuteStream implements Strategy. The stream does not own a
// connection; closing it only closes the rows.
func (s *Transactional) ExecuteStream(
	ctx context.Context, _ types.Request, _ types.Options, run StreamOp,
) (*Stream, error) {
	rows, err := run(ctx, s.tx)
	if err != nil {
		return nil, err
	}
	return &Stream{Rows: rows}, nil
}

func transactionalCtx(ctx context.Context, opts types.Options) (context.Context, context.CancelFunc) {
	if opts.CommandTimeout > 0 {
		return context.WithTimeout(ctx, opts.CommandTimeout)
	}
	return ctx, func() {}
}
