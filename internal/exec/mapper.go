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
	"database/sql"
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/accessor"
)

// planCache remembers column-to-field bindings per (row type, column
// set). Result shapes are few; a small LRU keeps the reflection walk
// off the per-row path.
var planCache, _ = lru.New[string, []int](1024)

// rowScanner reads the current row into a fresh R.
type rowScanner[R any] func(rows *sql.Rows) (R, error)

// scannerFor builds a rowScanner for the result columns. Scalar and
// driver-native row types scan the first column directly; structs
// map columns onto fields by case-insensitive name.
func scannerFor[R any](reg *accessor.Registry, cols []string) (rowScanner[R], error) {
	rowType := reflect.TypeOf((*R)(nil)).Elem()
	base := rowType
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() != reflect.Struct || scansDirectly(base) {
		return func(rows *sql.Rows) (R, error) {
			var ret R
			err := rows.Scan(&ret)
			return ret, errors.WithStack(err)
		}, nil
	}

	acc, err := reg.Lookup(base)
	if err != nil {
		return nil, err
	}

	key := base.String() + "|" + strings.Join(cols, ",")
	ordinals, ok := planCache.Get(key)
	if !ok {
		ordinals = make([]int, len(cols))
		for i, col := range cols {
			if ord, found := acc.Ordinal(col); found {
				ordinals[i] = ord
			} else {
				ordinals[i] = -1
			}
		}
		planCache.Add(key, ordinals)
	}

	isPtr := rowType.Kind() == reflect.Pointer
	return func(rows *sql.Rows) (R, error) {
		var ret R
		target := reflect.New(base).Elem()
		dests := make([]any, len(ordinals))
		var discard any
		for i, ord := range ordinals {
			if ord < 0 {
				dests[i] = &discard
				continue
			}
			dests[i] = target.FieldByIndex(acc.Props[ord].Index).Addr().Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return ret, errors.WithStack(err)
		}
		if isPtr {
			p := reflect.New(base)
			p.Elem().Set(target)
			ret = p.Interface().(R)
		} else {
			ret = target.Interface().(R)
		}
		return ret, nil
	}, nil
}

// scansDirectly reports whether the driver can scan into the type
// without field mapping.
func scansDirectly(t reflect.Type) bool {
	if t.Implements(reflect.TypeOf((*sql.Scanner)(nil)).Elem()) ||
		reflect.PointerTo(t).Implements(reflect.TypeOf((*sql.Scanner)(nil)).Elem()) {
		return true
	}
	switch t.String() {
	case "time.Time":
		return true
	}
	return false
}
