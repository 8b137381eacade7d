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

// Package resilience composes retry, circuit breaking, and per-call
// timeouts around driver operations, with a pluggable classifier
// that decides which SQL Server failures are worth retrying.
package resilience

import (
	"context"
	sqldriver "database/sql/driver"
	"net"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"
)

// SQL Server error numbers with dedicated handling.
const (
	// ErrNumDeadlock is the deadlock-victim error.
	ErrNumDeadlock = 1205
	// ErrNumClientTimeout is the driver's timeout sentinel.
	ErrNumClientTimeout = -2
	// ErrNumLoginFailed is an authentication failure; never
	// retried.
	ErrNumLoginFailed = 18456
)

// transientNumbers is the default set of retryable SQL Server error
// numbers: deadlock, client timeout, the network-disconnect family,
// and the Azure throttling family.
var transientNumbers = map[int32]struct{}{
	ErrNumDeadlock:      {},
	ErrNumClientTimeout: {},
	53:                  {},
	233:                 {},
	10053:               {},
	10054:               {},
	10060:               {},
	40613:               {},
	40197:               {},
	40501:               {},
	49918:               {},
}

// schemaDriftNumbers are the errors raised when cached metadata no
// longer matches the live object: missing required parameter,
// invalid column, invalid object, too many arguments.
var schemaDriftNumbers = map[int32]struct{}{
	201:  {},
	207:  {},
	208:  {},
	8144: {},
}

// A Classifier reports whether an error is transient.
type Classifier func(error) bool

// SQLErrorNumber extracts the SQL Server error number, if the error
// carries one.
func SQLErrorNumber(err error) (int32, bool) {
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Number, true
	}
	return 0, false
}

// IsTransient is the default Classifier.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if n, ok := SQLErrorNumber(err); ok {
		_, transient := transientNumbers[n]
		return transient
	}
	if errors.Is(err, sqldriver.ErrBadConn) {
		return true
	}
	// A per-attempt deadline is the runtime's timeout error; the
	// caller-cancellation case was excluded above.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsDeadlock reports a deadlock-victim failure.
func IsDeadlock(err error) bool {
	n, ok := SQLErrorNumber(err)
	return ok && n == ErrNumDeadlock
}

// IsAuthFailure reports a login-denied failure, which must fast-fail
// through the breaker rather than retry.
func IsAuthFailure(err error) bool {
	n, ok := SQLErrorNumber(err)
	return ok && n == ErrNumLoginFailed
}

// IsSchemaDrift reports whether the error indicates that cached
// schema metadata disagrees with the live object.
func IsSchemaDrift(err error) bool {
	if n, ok := SQLErrorNumber(err); ok {
		_, drift := schemaDriftNumbers[n]
		return drift
	}
	return false
}
