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

// Package intercept surrounds command execution with caller-supplied
// hooks. A hook may suppress execution entirely and substitute a
// mock result, which the executor emits instead of touching the
// driver.
package intercept

import (
	"context"
	"sync"
	"time"

	"github.com/wotjr1649/libdb/internal/util/ident"
)

// CommandContext is handed to every hook for one command execution.
type CommandContext struct {
	Instance ident.Instance
	Command  string

	suppress bool
	mock     any
}

// SetResult suppresses driver execution and substitutes the given
// result.
func (c *CommandContext) SetResult(result any) {
	c.suppress = true
	c.mock = result
}

// Reset clears a previously-set mock result.
func (c *CommandContext) Reset() {
	c.suppress = false
	c.mock = nil
}

// Suppressed returns the mock result, if one was set.
func (c *CommandContext) Suppressed() (any, bool) {
	return c.mock, c.suppress
}

// An Interceptor observes command execution. Durations are reported
// in microseconds.
type Interceptor interface {
	// OnExecuting runs before the driver is touched. An error
	// aborts the operation.
	OnExecuting(ctx context.Context, cc *CommandContext) error
	// OnExecuted runs after a successful execution.
	OnExecuted(ctx context.Context, cc *CommandContext, micros int64, result any)
	// OnFailed runs after a failed execution.
	OnFailed(ctx context.Context, cc *CommandContext, micros int64, err error)
}

// A Chain invokes interceptors in registration order.
type Chain struct {
	mu           sync.RWMutex
	interceptors []Interceptor
}

// NewChain constructs an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register appends an interceptor.
func (c *Chain) Register(i Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
}

// Run executes op under the chain. Every OnExecuting hook completes
// before the driver is touched; if any of them set a result, op is
// skipped and the mock is returned.
func (c *Chain) Run(
	ctx context.Context, cc *CommandContext, op func(ctx context.Context) (any, error),
) (any, error) {
	c.mu.RLock()
	hooks := make([]Interceptor, len(c.interceptors))
	copy(hooks, c.interceptors)
	c.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnExecuting(ctx, cc); err != nil {
			return nil, err
		}
	}
	if mock, ok := cc.Suppressed(); ok {
		for _, h := range hooks {
			h.OnExecuted(ctx, cc, 0, mock)
		}
		return mock, nil
	}

	start := time.Now()
	result, err := op(ctx)
	micros := time.Since(start).Microseconds()
	if err != nil {
		for _, h := range hooks {
			h.OnFailed(ctx, cc, micros, err)
		}
		return nil, err
	}
	for _, h := range hooks {
		h.OnExecuted(ctx, cc, micros, result)
	}
	return result, nil
}
