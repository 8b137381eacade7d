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

package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/spf13/pflag"

	"github.com/wotjr1649/libdb/internal/types"
)

// BackoffPolicy selects the retry-delay progression.
type BackoffPolicy int

// BackoffPolicy values.
const (
	BackoffConstant BackoffPolicy = iota
	BackoffLinear
	BackoffExponential
)

// Config contains the user-visible resilience configuration.
type Config struct {
	// MaxRetries is the number of re-executions after the first
	// attempt.
	MaxRetries int
	// Policy, BaseDelay, MaxDelay, and Jitter shape the retry
	// delays.
	Policy    BackoffPolicy
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
	// DefaultTimeout bounds one attempt when the caller does not
	// override it.
	DefaultTimeout time.Duration
	// BreakerFailureRatio opens the breaker once the failure ratio
	// over the sliding window crosses it.
	BreakerFailureRatio float64
	// BreakerMinRequests is the minimum window population before
	// the ratio is considered.
	BreakerMinRequests uint32
	// BreakerInterval is the sliding-window width.
	BreakerInterval time.Duration
	// BreakerOpenFor is how long the breaker stays open before
	// probing.
	BreakerOpenFor time.Duration
}

// Bind registers flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.IntVar(&c.MaxRetries, "retryMaxAttempts", 3,
		"number of retries after a transient failure")
	flags.DurationVar(&c.BaseDelay, "retryBaseDelay", 100*time.Millisecond,
		"base delay between retries")
	flags.DurationVar(&c.MaxDelay, "retryMaxDelay", 5*time.Second,
		"upper bound on the delay between retries")
	flags.BoolVar(&c.Jitter, "retryJitter", true,
		"randomize retry delays to avoid thundering herds")
	flags.DurationVar(&c.DefaultTimeout, "commandTimeout", 30*time.Second,
		"default per-attempt command timeout")
	flags.Float64Var(&c.BreakerFailureRatio, "breakerFailureRatio", 0.5,
		"failure ratio that opens the circuit breaker")
	flags.Uint32Var(&c.BreakerMinRequests, "breakerMinRequests", 10,
		"minimum requests in the window before the breaker can open")
	flags.DurationVar(&c.BreakerInterval, "breakerInterval", time.Minute,
		"width of the breaker's sliding window")
	flags.DurationVar(&c.BreakerOpenFor, "breakerOpenFor", 15*time.Second,
		"how long the breaker stays open before probing")
}

// Preflight validates the configuration and applies defaults.
func (c *Config) Preflight() error {
	if c.MaxRetries < 0 {
		return errors.New("retryMaxAttempts must not be negative")
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = 0.5
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = 10
	}
	if c.BreakerInterval <= 0 {
		c.BreakerInterval = time.Minute
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 15 * time.Second
	}
	return nil
}

// A Try describes one attempt to the wrapped operation.
type Try struct {
	// Attempt counts from 1.
	Attempt int
	// AfterDeadlock is set when the previous attempt lost a
	// deadlock; the strategy elevates the connection's deadlock
	// priority before re-running.
	AfterDeadlock bool
}

// Pipeline composes, outermost first, retry, the circuit breaker,
// and the per-attempt timeout around an operation. One Pipeline is
// shared process-wide so the breaker counts failures across calls.
type Pipeline struct {
	cfg        Config
	classifier Classifier
	breaker    *gobreaker.CircuitBreaker
	lastSQL    atomic.Int32
}

// New constructs a Pipeline. A nil classifier selects IsTransient.
func New(cfg Config, classifier Classifier) (*Pipeline, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = IsTransient
	}
	p := &Pipeline{cfg: cfg, classifier: classifier}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "libdb",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"from": from, "to": to}).
				Warn("circuit breaker state change")
			if to == gobreaker.StateOpen {
				breakerOpens.Inc()
			}
		},
	})
	return p, nil
}

// NoTimeout disables the per-attempt timeout when passed as
// Options.CommandTimeout; streaming reads outlive any single
// attempt.
const NoTimeout = time.Duration(-1)

// Execute runs op under the pipeline. The op receives a context
// bounded by the per-attempt timeout and a Try describing the
// attempt.
func (p *Pipeline) Execute(
	ctx context.Context, opts types.Options, op func(ctx context.Context, try Try) error,
) error {
	timeout := p.cfg.DefaultTimeout
	switch {
	case opts.CommandTimeout > 0:
		timeout = opts.CommandTimeout
	case opts.CommandTimeout < 0:
		timeout = 0
	}

	try := Try{}
	attemptOnce := func() error {
		try.Attempt++
		_, err := p.breaker.Execute(func() (any, error) {
			attemptCtx, cancel := ctx, func() {}
			if timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()
			return nil, op(attemptCtx, try)
		})
		if err == nil {
			return nil
		}
		if n, ok := SQLErrorNumber(err); ok {
			p.lastSQL.Store(n)
		}
		// Caller cancellation is not a failure mode to retry.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(&types.CircuitOpenError{LastNumber: p.lastSQL.Load()})
		}
		if !p.classifier(err) {
			return backoff.Permanent(err)
		}
		try.AfterDeadlock = IsDeadlock(err)
		retriesTotal.Inc()
		log.WithError(err).WithField("attempt", try.Attempt).Debug("retrying transient failure")
		return err
	}

	err := backoff.Retry(attemptOnce, backoff.WithContext(p.policy(), ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// policy builds the per-call backoff progression.
func (p *Pipeline) policy() backoff.BackOff {
	var bo backoff.BackOff
	switch p.cfg.Policy {
	case BackoffConstant:
		bo = backoff.NewConstantBackOff(p.cfg.BaseDelay)
	case BackoffLinear:
		bo = &linearBackOff{base: p.cfg.BaseDelay, cap: p.cfg.MaxDelay}
	default:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.cfg.BaseDelay
		exp.MaxInterval = p.cfg.MaxDelay
		exp.MaxElapsedTime = 0
		if p.cfg.Jitter {
			exp.RandomizationFactor = 0.5
		} else {
			exp.RandomizationFactor = 0
		}
		exp.Reset()
		bo = exp
	}
	return backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries))
}

// linearBackOff grows the delay arithmetically up to a cap.
type linearBackOff struct {
	base time.Duration
	cap  time.Duration
	step int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (l *linearBackOff) NextBackOff() time.Duration {
	l.step++
	d := time.Duration(l.step) * l.base
	if l.cap > 0 && d > l.cap {
		d = l.cap
	}
	return d
}

func (l *linearBackOff) Reset() { l.step = 0 }
