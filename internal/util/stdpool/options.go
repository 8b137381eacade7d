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

package stdpool

import (
	"context"
	"database/sql"
	"time"
)

// An Option is applied to the values produced while opening a pool.
// Each option inspects the target and applies itself where relevant.
type Option interface {
	option()
}

// TestControls adjusts pool-opening behavior in test scenarios.
type TestControls struct {
	WaitForStartup bool
}

type withConnectionLifetime struct{ d time.Duration }
type withPoolSize struct{ n int }
type withTestControls struct{ tc TestControls }

func (withConnectionLifetime) option() {}
func (withPoolSize) option()           {}
func (withTestControls) option()       {}

// WithConnectionLifetime limits the lifetime of pooled connections.
func WithConnectionLifetime(d time.Duration) Option { return withConnectionLifetime{d} }

// WithPoolSize sets the maximum number of open connections.
func WithPoolSize(n int) Option { return withPoolSize{n} }

// WithTestControls attaches test-only behaviors.
func WithTestControls(tc TestControls) Option { return withTestControls{tc} }

// attachOptions applies every option relevant to target.
func attachOptions(_ context.Context, target any, options []Option) error {
	for _, opt := range options {
		switch t := target.(type) {
		case *sql.DB:
			switch o := opt.(type) {
			case withConnectionLifetime:
				t.SetConnMaxLifetime(o.d)
			case withPoolSize:
				t.SetMaxOpenConns(o.n)
				t.SetMaxIdleConns(o.n)
			}
		case *TestControls:
			if o, ok := opt.(withTestControls); ok {
				*t = o.tc
			}
		}
	}
	return nil
}
