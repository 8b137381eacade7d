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
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotjr1649/libdb/internal/intercept"
	"github.com/wotjr1649/libdb/internal/resilience"
	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

type userRow struct {
	Age      int32
	Email    string
	UserName string
}

const testInstance = ident.Instance("f4kef4kef4kef4ke")

func fastPipeline(t *testing.T) *resilience.Pipeline {
	t.Helper()
	p, err := resilience.New(resilience.Config{
		MaxRetries:         2,
		Policy:             resilience.BackoffConstant,
		BaseDelay:          10 * time.Millisecond,
		DefaultTimeout:     time.Second,
		BreakerMinRequests: 1000,
	}, nil)
	require.NoError(t, err)
	return p
}

func newTestExecutor(t *testing.T, db *fakeDB, chain *intercept.Chain) *Executor {
	t.Helper()
	strategy := NewResilient(db.pool(), fastPipeline(t), nil)
	ex, err := New(Config{}, strategy, nil, nil, chain, nil)
	require.NoError(t, err)
	return ex
}

func userRows() *fakeResult {
	return &fakeResult{
		cols: []string{"UserName", "Email", "Age"},
		rows: [][]driver.Value{
			{"Alice", "alice@test.com", int64(30)},
			{"Bob", "bob@test.com", int64(31)},
		},
	}
}

func TestQueryMapsRows(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		return userRows(), nil
	})
	ex := newTestExecutor(t, db, nil)

	req := types.Request{
		Instance:    testInstance,
		Command:     "SELECT UserName, Email, Age FROM users",
		CommandType: types.Text,
	}
	var got []userRow
	for row, err := range Query[userRow](context.Background(), ex, req, types.Options{}) {
		require.NoError(t, err)
		got = append(got, row)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "Alice", got[0].UserName)
	assert.Equal(t, "alice@test.com", got[0].Email)
	assert.Equal(t, int32(30), got[0].Age)
	assert.Equal(t, "Bob", got[1].UserName)
}

func TestQuerySingleStoredProcedure(t *testing.T) {
	db := newFakeDB(func(query string, _ []driver.NamedValue) (*fakeResult, error) {
		if !strings.HasPrefix(query, "EXEC [core].[usp_core_get_user]") {
			return &fakeResult{}, nil
		}
		return &fakeResult{
			cols: []string{"UserName", "Email", "Age"},
			rows: [][]driver.Value{{"Alice", "alice@test.com", int64(30)}},
		}, nil
	})
	ex := newTestExecutor(t, db, nil)

	req := types.Request{
		Instance:    testInstance,
		Command:     "[core].[usp_Core_Get_User]",
		CommandType: types.StoredProcedure,
		Params:      map[string]any{"UserId": 1},
	}
	row, ok, err := QuerySingle[userRow](context.Background(), ex, req, types.Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", row.UserName)
	assert.Equal(t, "alice@test.com", row.Email)
}

// countingInterceptor counts each executing hook.
type countingInterceptor struct{ executing, executed, failed int }

func (c *countingInterceptor) OnExecuting(context.Context, *intercept.CommandContext) error {
	c.executing++
	return nil
}
func (c *countingInterceptor) OnExecuted(context.Context, *intercept.CommandContext, int64, any) {
	c.executed++
}
func (c *countingInterceptor) OnFailed(context.Context, *intercept.CommandContext, int64, error) {
	c.failed++
}

func TestTransientRetryRunsInterceptorsPerAttempt(t *testing.T) {
	attempts := 0
	db := newFakeDB(func(query string, _ []driver.NamedValue) (*fakeResult, error) {
		// The deadlock-priority elevation sent before each retry is not
		// an attempt of the query itself.
		if strings.HasPrefix(query, "SET DEADLOCK_PRIORITY") {
			return &fakeResult{}, nil
		}
		attempts++
		if attempts <= 2 {
			return nil, mssql.Error{Number: 1205, Message: "deadlock victim"}
		}
		return userRows(), nil
	})
	chain := intercept.NewChain()
	counter := &countingInterceptor{}
	chain.Register(counter)
	ex := newTestExecutor(t, db, chain)

	req := types.Request{
		Instance:    testInstance,
		Command:     "SELECT UserName, Email, Age FROM users",
		CommandType: types.Text,
	}
	rows := 0
	for _, err := range Query[userRow](context.Background(), ex, req, types.Options{}) {
		require.NoError(t, err)
		rows++
	}
	require.Equal(t, 2, rows)
	// Two transient failures plus the success: three executions,
	// each observed by the chain.
	assert.Equal(t, 3, counter.executing)
	assert.Equal(t, 2, counter.failed)
	assert.Equal(t, 1, counter.executed)
}

func TestInterceptorMockSuppressesDriver(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		panic("driver must not be touched")
	})
	chain := intercept.NewChain()
	chain.Register(&mockInterceptor{result: []userRow{{UserName: "Mocked"}}})
	ex := newTestExecutor(t, db, chain)

	req := types.Request{
		Instance:    testInstance,
		Command:     "SELECT 1",
		CommandType: types.Text,
	}
	var got []userRow
	for row, err := range Query[userRow](context.Background(), ex, req, types.Options{}) {
		require.NoError(t, err)
		got = append(got, row)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "Mocked", got[0].UserName)
}

type mockInterceptor struct{ result any }

func (m *mockInterceptor) OnExecuting(_ context.Context, cc *intercept.CommandContext) error {
	cc.SetResult(m.result)
	return nil
}
func (m *mockInterceptor) OnExecuted(context.Context, *intercept.CommandContext, int64, any) {}
func (m *mockInterceptor) OnFailed(context.Context, *intercept.CommandContext, int64, error) {}

func TestExecuteNonQuery(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		return &fakeResult{affected: 3}, nil
	})
	ex := newTestExecutor(t, db, nil)

	n, err := ExecuteNonQuery(context.Background(), ex, types.Request{
		Instance:    testInstance,
		Command:     "DELETE FROM users WHERE Age > @p1",
		CommandType: types.Text,
		Params:      []any{100},
	}, types.Options{})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestExecuteScalar(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		return &fakeResult{cols: []string{"n"}, rows: [][]driver.Value{{int64(3)}}}, nil
	})
	ex := newTestExecutor(t, db, nil)

	n, ok, err := ExecuteScalar[int64](context.Background(), ex, types.Request{
		Instance:    testInstance,
		Command:     "SELECT COUNT(*) FROM users",
		CommandType: types.Text,
	}, types.Options{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), n)
}

func TestDryRunNeverTouchesDriver(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		panic("driver must not be touched")
	})
	ex := newTestExecutor(t, db, nil)
	ctx := context.Background()
	req := types.Request{Instance: testInstance, Command: "SELECT 1", CommandType: types.Text}
	opts := types.Options{DryRun: true}

	for range Query[userRow](ctx, ex, req, opts) {
		t.Fatal("dry-run query must be empty")
	}

	n, err := ExecuteNonQuery(ctx, ex, req, opts)
	require.NoError(t, err)
	require.Zero(t, n)

	mr, err := QueryMultiple(ctx, ex, req, opts)
	require.NoError(t, err)
	rows, err := Read[userRow](mr)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.False(t, mr.NextResult())
	require.NoError(t, mr.Close())
}

func TestExecStatementRendering(t *testing.T) {
	name := ident.ParseObjectName("[core].[usp_Get]")
	args, err := newTestExecutor(t, newFakeDB(nil), nil).binder.BindText(
		map[string]any{"UserId": 1})
	require.NoError(t, err)
	text := execStatement(name, args)
	require.Equal(t, "EXEC [core].[usp_get] @UserId = @UserId;", text)

	require.Equal(t, "EXEC [core].[usp_get];", execStatement(name, nil))
}

func TestBulkInsertDrivesCopy(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		return &fakeResult{}, nil
	})
	ex := newTestExecutor(t, db, nil)

	rows := []userRow{
		{UserName: "Bulk1", Email: "bulk1@test.com", Age: 20},
		{UserName: "Bulk2", Email: "bulk2@test.com", Age: 21},
		{UserName: "Bulk3", Email: "bulk3@test.com", Age: 22},
	}
	err := BulkInsert(context.Background(), ex, testInstance, "dbo.Users", rows, types.Options{})
	require.NoError(t, err)
	// One statement execution per row plus the terminating flush.
	require.Equal(t, 4, db.stmtExecs)
}

func TestBulkUpdateStagesAndMerges(t *testing.T) {
	db := newFakeDB(func(query string, _ []driver.NamedValue) (*fakeResult, error) {
		return &fakeResult{affected: 1}, nil
	})
	ex := newTestExecutor(t, db, nil)

	rows := []userRow{
		{UserName: "A", Email: "a@test.com", Age: 20},
		{UserName: "A", Email: "newer@test.com", Age: 21},
		{UserName: "B", Email: "b@test.com", Age: 30},
	}
	err := BulkUpdate(context.Background(), ex, testInstance, "dbo.Users",
		rows, []string{"UserName"}, []string{"Email", "Age"}, types.Options{})
	require.NoError(t, err)

	// Duplicate keys dedup last-one-wins: 2 rows staged + flush.
	require.Equal(t, 3, db.stmtExecs)

	var merge string
	for _, q := range db.queries {
		if strings.HasPrefix(q, "MERGE INTO") {
			merge = q
		}
	}
	require.NotEmpty(t, merge)
	assert.Contains(t, merge, "t.[UserName] = s.[UserName]")
	assert.Contains(t, merge, "t.[Email] = s.[Email]")
	assert.Contains(t, merge, "t.[Age] = s.[Age]")
}

func TestBulkDeleteJoins(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		return &fakeResult{affected: 2}, nil
	})
	ex := newTestExecutor(t, db, nil)

	err := BulkDelete(context.Background(), ex, testInstance, "dbo.Users",
		[]userRow{{UserName: "A"}, {UserName: "B"}}, []string{"UserName"}, types.Options{})
	require.NoError(t, err)

	found := false
	for _, q := range db.queries {
		if strings.HasPrefix(q, "DELETE t FROM [dbo].[users]") {
			found = true
		}
	}
	require.True(t, found)
}

func TestChaosWrapper(t *testing.T) {
	db := newFakeDB(func(string, []driver.NamedValue) (*fakeResult, error) {
		return userRows(), nil
	})
	base := NewResilient(db.pool(), fastPipeline(t), nil)

	require.Same(t, base, WithChaos(base, 0).(*Resilient))

	always := WithChaos(base, 1)
	err := always.Execute(context.Background(), types.Request{}, types.Options{},
		func(context.Context, types.TargetQuerier) error { return nil })
	require.ErrorIs(t, err, ErrChaos)
	_, err = always.ExecuteStream(context.Background(), types.Request{}, types.Options{},
		nil)
	require.ErrorIs(t, err, ErrChaos)
}
