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

// Package sqlfmt converts interpolated SQL templates into
// parameterized command text. Given a template whose value slots are
// written as {}, it produces the command text with fresh @pN
// placeholders and the matching named-argument list, so that caller
// values never end up spliced into SQL.
package sqlfmt

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Interpolate replaces each {} slot in template with a generated @pN
// placeholder and returns the rewritten text plus the named arguments
// carrying the original values. The number of slots must match the
// number of args.
func Interpolate(template string, args ...any) (string, []sql.Named, error) {
	var b strings.Builder
	// Each slot expands from 2 bytes to roughly 4 (@pNN).
	b.Grow(len(template) + 4*len(args))

	named := make([]sql.Named, 0, len(args))
	slot := 0
	for {
		idx := strings.Index(template, "{}")
		if idx < 0 {
			break
		}
		if slot >= len(args) {
			return "", nil, errors.Errorf(
				"template has more than %d value slots", len(args))
		}
		b.WriteString(template[:idx])
		name := "p" + strconv.Itoa(slot+1)
		b.WriteByte('@')
		b.WriteString(name)
		named = append(named, sql.Named(name, args[slot]))
		template = template[idx+2:]
		slot++
	}
	if slot != len(args) {
		return "", nil, errors.Errorf(
			"template has %d value slots, but %d arguments were supplied", slot, len(args))
	}
	b.WriteString(template)
	return b.String(), named, nil
}
