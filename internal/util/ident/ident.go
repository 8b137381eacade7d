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

// Package ident contains types for safely representing SQL Server
// object names and logical instance identities.
package ident

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// An Instance identifies one logical target database. It is used as a
// partition key throughout the schema caches and the epoch store. The
// value is opaque; NewInstance derives one from a connection string.
type Instance string

// NewInstance hashes a connection string into a stable Instance. The
// string is normalized so that insignificant ordering or casing
// differences map to the same identity.
func NewInstance(connString string) Instance {
	parts := strings.Split(connString, ";")
	norm := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			norm = append(norm, p)
		}
	}
	// Ordering of connection-string options is insignificant.
	sortStrings(norm)
	return Instance(fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(norm, ";"))))
}

// Raw returns the underlying string.
func (i Instance) Raw() string { return string(i) }

// sortStrings is an insertion sort; connection strings have a handful
// of options and this avoids pulling sort into the hot path's escape
// analysis.
func sortStrings(x []string) {
	for i := 1; i < len(x); i++ {
		for j := i; j > 0 && x[j] < x[j-1]; j-- {
			x[j], x[j-1] = x[j-1], x[j]
		}
	}
}

// An ObjectName is a normalized {schema}.{name} pair. Comparison is
// case-insensitive; the stored form is canonical lower-case with any
// bracket quoting stripped. A bare name is qualified with dbo.
type ObjectName struct {
	schema string
	name   string
}

// ParseObjectName normalizes raw into an ObjectName.
func ParseObjectName(raw string) ObjectName {
	raw = strings.TrimSpace(raw)
	schema, name := "dbo", raw
	// Split on the first dot that separates two identifier parts.
	// Bracketed identifiers may themselves contain dots.
	if idx := splitQualified(raw); idx >= 0 {
		schema, name = raw[:idx], raw[idx+1:]
	}
	return ObjectName{
		schema: canonical(schema),
		name:   canonical(name),
	}
}

// NewObjectName builds an ObjectName from already-separated parts.
func NewObjectName(schema, name string) ObjectName {
	if schema == "" {
		schema = "dbo"
	}
	return ObjectName{schema: canonical(schema), name: canonical(name)}
}

// splitQualified returns the index of the dot separating schema from
// name, or -1 for a bare name.
func splitQualified(raw string) int {
	depth := 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '.':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// canonical strips bracket quoting and lower-cases.
func canonical(part string) string {
	part = strings.TrimSpace(part)
	if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
		part = part[1 : len(part)-1]
	}
	return lower(part)
}

// Schema returns the canonical schema part.
func (n ObjectName) Schema() string { return n.schema }

// Name returns the canonical object part.
func (n ObjectName) Name() string { return n.name }

// Raw returns the canonical {schema}.{name} form.
func (n ObjectName) Raw() string { return n.schema + "." + n.name }

// Quoted returns the bracket-quoted form for embedding in SQL text.
func (n ObjectName) Quoted() string {
	return "[" + n.schema + "].[" + n.name + "]"
}

// Empty reports whether the name part is missing.
func (n ObjectName) Empty() bool { return n.name == "" }

// String implements fmt.Stringer.
func (n ObjectName) String() string { return n.Raw() }

// HashInsensitive returns the case-insensitive hash of s. Only ASCII
// letters are folded: the hash of a string equals the hash of its
// ASCII-lower-cased form; callers rely on this to compare property
// names against precomputed column hashes.
func HashInsensitive(s string) uint64 {
	if isLower(s) {
		return xxhash.Sum64String(s)
	}
	var d xxhash.Digest
	d.Reset()
	var buf [64]byte
	for len(s) > 0 {
		n := len(s)
		if n > len(buf) {
			n = len(buf)
		}
		for i := 0; i < n; i++ {
			buf[i] = lowerByte(s[i])
		}
		_, _ = d.Write(buf[:n])
		s = s[n:]
	}
	return d.Sum64()
}

// isLower reports whether s contains no upper-case ASCII.
func isLower(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			return false
		}
	}
	return true
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// lower is a copy-free ToLower for the common already-lower case.
func lower(s string) string {
	if isLower(s) {
		return s
	}
	return strings.ToLower(s)
}

// Lower canonicalizes s to lower-case, allocating only when needed.
func Lower(s string) string { return lower(s) }
