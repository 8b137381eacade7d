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

package intercept

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recording captures hook invocations.
type recording struct {
	name   string
	log    *[]string
	mockOn bool
	mock   any
}

func (r *recording) OnExecuting(_ context.Context, cc *CommandContext) error {
	*r.log = append(*r.log, r.name+":executing")
	if r.mockOn {
		cc.SetResult(r.mock)
	}
	return nil
}

func (r *recording) OnExecuted(_ context.Context, _ *CommandContext, _ int64, _ any) {
	*r.log = append(*r.log, r.name+":executed")
}

func (r *recording) OnFailed(_ context.Context, _ *CommandContext, _ int64, _ error) {
	*r.log = append(*r.log, r.name+":failed")
}

func TestHooksRunInRegistrationOrder(t *testing.T) {
	chain := NewChain()
	log := []string{}
	chain.Register(&recording{name: "a", log: &log})
	chain.Register(&recording{name: "b", log: &log})

	res, err := chain.Run(context.Background(), &CommandContext{},
		func(context.Context) (any, error) {
			log = append(log, "op")
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t,
		[]string{"a:executing", "b:executing", "op", "a:executed", "b:executed"}, log)
}

func TestFailureHooks(t *testing.T) {
	chain := NewChain()
	log := []string{}
	chain.Register(&recording{name: "a", log: &log})

	boom := errors.New("boom")
	_, err := chain.Run(context.Background(), &CommandContext{},
		func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a:executing", "a:failed"}, log)
}

func TestSuppressionSkipsDriver(t *testing.T) {
	chain := NewChain()
	log := []string{}
	chain.Register(&recording{name: "a", log: &log, mockOn: true, mock: "mocked"})
	chain.Register(&recording{name: "b", log: &log})

	res, err := chain.Run(context.Background(), &CommandContext{},
		func(context.Context) (any, error) {
			t.Fatal("driver must not be touched when suppressed")
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "mocked", res)
	// Every OnExecuting still completes before the mock is emitted.
	assert.Equal(t,
		[]string{"a:executing", "b:executing", "a:executed", "b:executed"}, log)
}

func TestResetClearsSuppression(t *testing.T) {
	cc := &CommandContext{}
	cc.SetResult(1)
	_, ok := cc.Suppressed()
	require.True(t, ok)
	cc.Reset()
	_, ok = cc.Suppressed()
	require.False(t, ok)
}

func TestExecutingErrorAborts(t *testing.T) {
	chain := NewChain()
	chain.Register(failingInterceptor{})
	_, err := chain.Run(context.Background(), &CommandContext{},
		func(context.Context) (any, error) {
			t.Fatal("must not run")
			return nil, nil
		})
	require.Error(t, err)
}

type failingInterceptor struct{}

func (failingInterceptor) OnExecuting(context.Context, *CommandContext) error {
	return errors.New("rejected")
}
func (failingInterceptor) OnExecuted(context.Context, *CommandContext, int64, any) {}
func (failingInterceptor) OnFailed(context.Context, *CommandContext, int64, error) {}
