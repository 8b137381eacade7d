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

package types

import (
	"fmt"

	"github.com/wotjr1649/libdb/internal/util/ident"
)

// ObjectKind distinguishes the cached schema-object families.
type ObjectKind int

// ObjectKind values.
const (
	KindSp ObjectKind = iota
	KindTvp
)

// String returns a short tag for logs and cache keys.
func (k ObjectKind) String() string {
	if k == KindTvp {
		return "TVP"
	}
	return "SP"
}

// SchemaMissingError reports that the requested database object does
// not exist. Instances are also recorded in the negative cache as
// flyweights, so the struct must stay immutable after construction.
type SchemaMissingError struct {
	Instance ident.Instance
	Kind     ObjectKind
	Name     string
}

// Error implements error.
func (e *SchemaMissingError) Error() string {
	return fmt.Sprintf("%s %s does not exist on instance %s", e.Kind, e.Name, e.Instance)
}

// SchemaValidationError reports a structural disagreement between a
// row type and the database-side table type.
type SchemaValidationError struct {
	TvpName    string
	Reason     string
	ColumnName string
	Ordinal    int
}

// Error implements error.
func (e *SchemaValidationError) Error() string {
	if e.ColumnName != "" {
		return fmt.Sprintf("tvp %s: %s (column %q, ordinal %d)",
			e.TvpName, e.Reason, e.ColumnName, e.Ordinal)
	}
	return fmt.Sprintf("tvp %s: %s", e.TvpName, e.Reason)
}

// ParameterMissingError reports a required parameter bound to null
// while strict checking is enabled.
type ParameterMissingError struct {
	Param string
}

// Error implements error.
func (e *ParameterMissingError) Error() string {
	return fmt.Sprintf("required parameter %s must not be null", e.Param)
}

// ValueOverflowError reports a value that does not fit the declared
// database constraint.
type ValueOverflowError struct {
	Param      string
	Constraint string
}

// Error implements error.
func (e *ValueOverflowError) Error() string {
	return fmt.Sprintf("value for parameter %s overflows %s", e.Param, e.Constraint)
}

// CircuitOpenError is returned when the breaker is fast-failing. It
// carries the SQL error number of the failure that tripped the
// breaker, when one was available.
type CircuitOpenError struct {
	LastNumber int32
}

// Error implements error.
func (e *CircuitOpenError) Error() string {
	if e.LastNumber != 0 {
		return fmt.Sprintf("circuit breaker is open (last sql error %d)", e.LastNumber)
	}
	return "circuit breaker is open"
}
