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
	"fmt"
	"strings"

	"github.com/wotjr1649/libdb/internal/accessor"
)

// uniqueByKey implements a "last one wins" approach to removing rows
// with duplicate primary keys from a bulk batch. A staged MERGE
// fails on duplicate source keys, so the later row in the input
// replaces any earlier one.
//
// The modified slice is returned.
func uniqueByKey[T any](rows []T, acc *accessor.Accessors, keyOrdinals []int) []T {
	if len(keyOrdinals) == 0 || len(rows) < 2 {
		return rows
	}

	// For any given key, track the index in the slice that holds
	// data for that key.
	seenIdx := make(map[string]int, len(rows))

	// Iterate backwards over the input, moving elements to the rear
	// so that the last occurrence of each key survives.
	dest := len(rows)
	for src := len(rows) - 1; src >= 0; src-- {
		key := rowKey(&rows[src], acc, keyOrdinals)
		if _, found := seenIdx[key]; !found {
			dest--
			seenIdx[key] = dest
			rows[dest] = rows[src]
		}
	}

	// Return the compacted view of the slice.
	return rows[dest:]
}

func rowKey[T any](row *T, acc *accessor.Accessors, keyOrdinals []int) string {
	var b strings.Builder
	for _, ord := range keyOrdinals {
		fmt.Fprintf(&b, "%v\x00", acc.Getters[ord](row))
	}
	return b.String()
}
