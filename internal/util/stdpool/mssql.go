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

// Package stdpool creates standardized database connection pools.
package stdpool

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
	"github.com/wotjr1649/libdb/internal/util/stopper"
)

// OpenMSSQL opens a connection pool against a SQL Server instance,
// returning it together with a cancel function that closes the pool.
// The pool is also closed when the stopper Context begins stopping.
func OpenMSSQL(
	ctx *stopper.Context, connectString string, options ...Option,
) (*types.TargetPool, func(), error) {
	var tc TestControls
	if err := attachOptions(ctx, &tc, options); err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("sqlserver", connectString)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	ret := &types.TargetPool{
		DB: db,
		PoolInfo: types.PoolInfo{
			ConnectionString: connectString,
			Instance:         ident.NewInstance(connectString),
		},
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		if err := ret.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("could not close database connection")
		}
		return nil
	})

ping:
	if err := ret.PingContext(ctx); err != nil {
		if tc.WaitForStartup && isStartupError(err) {
			log.WithError(err).Info("waiting for database to become ready")
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(10 * time.Second):
				goto ping
			}
		}
		return nil, nil, errors.Wrap(err, "could not ping the database")
	}

	if err := ret.QueryRowContext(ctx,
		"SELECT @@VERSION;").Scan(&ret.Version); err != nil {
		return nil, nil, errors.Wrap(err, "could not query version")
	}
	log.WithFields(log.Fields{
		"instance": ret.Instance,
		"version":  ret.Version,
	}).Info("opened target pool")

	if err := attachOptions(ctx, ret.DB, options); err != nil {
		return nil, nil, err
	}
	if err := attachOptions(ctx, &ret.PoolInfo, options); err != nil {
		return nil, nil, err
	}

	return ret, func() { _ = ret.Close() }, nil
}

// isStartupError detects the errors seen while the server is still
// coming online.
func isStartupError(err error) bool {
	if errors.Is(err, sqldriver.ErrBadConn) {
		return true
	}
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		// 4060: cannot open database; 18401: server in script
		// upgrade mode. Both occur during container startup.
		return sqlErr.Number == 4060 || sqlErr.Number == 18401
	}
	return false
}
