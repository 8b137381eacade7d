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
	"math/rand"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/types"
)

// ErrChaos is the error that will be injected by the WithChaos
// wrapper.
var ErrChaos = errors.New("chaos")

// WithChaos returns a wrapper around a Strategy that will inject
// errors at various points throughout the execution. The strategy is
// returned unwrapped if prob is less than or equal to zero.
func WithChaos(delegate Strategy, prob float64) Strategy {
	if prob <= 0 {
		return delegate
	}
	return &chaosStrategy{delegate: delegate, prob: prob}
}

// This could include a *rand.Rand, but as soon as we start calling
// methods from multiple goroutines, there's no hope of repeatable
// behavior.
type chaosStrategy struct {
	delegate Strategy
	prob     float64
}

var _ Strategy = (*chaosStrategy)(nil)

func (c *chaosStrategy) Execute(
	ctx context.Context, req types.Request, opts types.Options, op Operation,
) error {
	if rand.Float64() < c.prob {
		return doChaos("Execute")
	}
	return c.delegate.Execute(ctx, req, opts, op)
}

func (c *chaosStrategy) ExecuteStream(
	ctx context.Context, req types.Request, opts types.Options, run StreamOp,
) (*Stream, error) {
	if rand.Float64() < c.prob {
		return nil, doChaos("ExecuteStream")
	}
	return c.delegate.ExecuteStream(ctx, req, opts, run)
}

// doChaos is a convenient place to set a breakpoint.
func doChaos(msg string) error {
	chaosInjections.Inc()
	return errors.WithMessage(ErrChaos, msg)
}
