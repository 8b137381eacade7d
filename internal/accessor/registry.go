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

package accessor

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxCachedTypes bounds the registry before it sheds all
// cached plans.
const DefaultMaxCachedTypes = 4096

// A Registry publishes Accessors by row type. Code-generated plans
// are registered up front; lookups for unknown types fall back to the
// reflection builder and cache the result. The cache is bounded with
// a shed-everything overflow policy.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Accessors
	max    int
}

// NewRegistry constructs an empty Registry. A non-positive maxCached
// selects DefaultMaxCachedTypes.
func NewRegistry(maxCached int) *Registry {
	if maxCached <= 0 {
		maxCached = DefaultMaxCachedTypes
	}
	return &Registry{
		byType: make(map[reflect.Type]*Accessors),
		max:    maxCached,
	}
}

// Register publishes a (typically code-generated) plan. Registering
// an equal plan twice is a no-op; registering a conflicting plan for
// the same type is an error.
func (r *Registry) Register(a *Accessors) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byType[a.RowType]; ok {
		if prev.Equal(a) {
			return nil
		}
		return errors.Errorf("conflicting accessors registered for %s", a.RowType)
	}
	r.store(a)
	return nil
}

// Lookup returns the plan for rowType, building one by reflection on
// a miss.
func (r *Registry) Lookup(rowType reflect.Type) (*Accessors, error) {
	if rowType.Kind() == reflect.Pointer {
		rowType = rowType.Elem()
	}
	r.mu.RLock()
	ret, ok := r.byType[rowType]
	r.mu.RUnlock()
	if ok {
		return ret, nil
	}

	built, err := reflectFor(rowType)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Lost a race; the earlier plan wins so that the validated flag
	// is not reset.
	if ret, ok := r.byType[rowType]; ok {
		return ret, nil
	}
	r.store(built)
	return built, nil
}

// For returns the plan for the type parameter.
func For[T any](r *Registry) (*Accessors, error) {
	return r.Lookup(reflect.TypeOf((*T)(nil)).Elem())
}

func (r *Registry) store(a *Accessors) {
	if len(r.byType) >= r.max {
		log.WithField("max", r.max).Warn("accessor cache overflow; shedding all cached plans")
		r.byType = make(map[reflect.Type]*Accessors)
	}
	r.byType[a.RowType] = a
}
