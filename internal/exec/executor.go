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
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/wotjr1649/libdb/internal/accessor"
	"github.com/wotjr1649/libdb/internal/binder"
	"github.com/wotjr1649/libdb/internal/intercept"
	"github.com/wotjr1649/libdb/internal/schema/service"
	"github.com/wotjr1649/libdb/internal/tvp"
	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// Config contains the user-visible executor configuration.
type Config struct {
	// StrictNullChecks makes a null bound to a required parameter
	// an error.
	StrictNullChecks bool
	// StrictTvpValidation selects Strict (vs LogOnly) structural
	// validation of TVP payloads.
	StrictTvpValidation bool
	// DefaultSchemaMode applies when the caller does not override.
	DefaultSchemaMode types.SchemaMode
	// BulkBatchSize is the initial bulk-pipeline batch size.
	BulkBatchSize int
	// ChaosProbability injects synthetic failures into every entry
	// point; zero disables injection.
	ChaosProbability float64
}

// Bind registers flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.BoolVar(&c.StrictNullChecks, "strictNullChecks", true,
		"reject null values bound to required parameters")
	flags.BoolVar(&c.StrictTvpValidation, "strictTvpValidation", true,
		"fail operations whose TVP rows disagree with the table type")
	flags.IntVar(&c.BulkBatchSize, "bulkBatchSize", 5000,
		"initial batch size for bulk pipelines")
	flags.Float64Var(&c.ChaosProbability, "chaosProbability", 0,
		"probability of injecting a synthetic failure; test environments only")
}

// Preflight validates the configuration and applies defaults.
func (c *Config) Preflight() error {
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = 5000
	}
	if c.ChaosProbability < 0 || c.ChaosProbability > 1 {
		return errors.New("chaosProbability must be within [0, 1]")
	}
	if c.DefaultSchemaMode == types.SchemaDefault {
		c.DefaultSchemaMode = types.SchemaSnapshotThenService
	}
	return nil
}

// An Executor turns logical requests into driver commands and runs
// them through an execution strategy. The executor itself is
// stateless per call and safe for concurrent use.
type Executor struct {
	cfg      Config
	strategy Strategy
	schema   *service.Service
	registry *accessor.Registry
	binder   *binder.Binder
	chain    *intercept.Chain
	memo     types.Memo
}

// New wires an Executor. The schema service and memo may be nil when
// the respective features are unused; the chain may be nil when no
// interceptors are registered.
func New(
	cfg Config,
	strategy Strategy,
	schema *service.Service,
	registry *accessor.Registry,
	chain *intercept.Chain,
	memo types.Memo,
) (*Executor, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = accessor.NewRegistry(0)
	}
	if chain == nil {
		chain = intercept.NewChain()
	}
	if cfg.ChaosProbability > 0 {
		strategy = WithChaos(strategy, cfg.ChaosProbability)
	}
	return &Executor{
		cfg:      cfg,
		strategy: strategy,
		schema:   schema,
		registry: registry,
		binder: binder.New(binder.Config{
			StrictNullChecks: cfg.StrictNullChecks,
		}, registry),
		chain: chain,
		memo:  memo,
	}, nil
}

// Registry exposes the accessor registry for code-generated plans.
func (ex *Executor) Registry() *accessor.Registry { return ex.registry }

// validationMode maps the config to the validator's mode.
func (ex *Executor) validationMode() tvp.Mode {
	if ex.cfg.StrictTvpValidation {
		return tvp.Strict
	}
	return tvp.LogOnly
}

// schemaMode resolves the effective schema mode for a call.
func (ex *Executor) schemaMode(opts types.Options) types.SchemaMode {
	if opts.SchemaMode != types.SchemaDefault {
		return opts.SchemaMode
	}
	return ex.cfg.DefaultSchemaMode
}

// command is a fully-bound driver command.
type command struct {
	text string
	args []any
}

// buildCommand resolves metadata, binds parameters, validates and
// encodes TVPs, and renders the final command text.
func (ex *Executor) buildCommand(
	ctx context.Context, req types.Request, opts types.Options,
) (*command, error) {
	if req.CommandType != types.StoredProcedure {
		args, err := ex.binder.BindText(req.Params)
		if err != nil {
			return nil, err
		}
		return &command{text: req.Command, args: args}, nil
	}

	mode := ex.schemaMode(opts)
	var sp *types.SpSchema
	if ex.schema != nil && mode != types.SchemaNone {
		loaded, err := ex.schema.GetSpSchema(ctx, req.Command, req.Instance)
		switch {
		case err == nil:
			sp = loaded
		case mode == types.SchemaSnapshotOnly:
			// Snapshot-only callers tolerate a cold cache and bind
			// whatever they were given verbatim.
		default:
			return nil, err
		}
	}

	name := ident.ParseObjectName(req.Command)
	if sp == nil {
		args, err := ex.binder.BindText(req.Params)
		if err != nil {
			return nil, err
		}
		return &command{text: execStatement(name, args), args: args}, nil
	}

	bound, err := ex.binder.BindSp(sp, req.Params)
	if err != nil {
		return nil, err
	}
	args := bound.Args
	for i := range bound.TVPs {
		arg, err := ex.encodeTVP(ctx, req.Instance, &bound.TVPs[i])
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return &command{text: execStatement(name, args), args: args}, nil
}

// encodeTVP validates the payload against the database-side type,
// then encodes it for the driver. Pre-validated plans skip the
// lookup entirely.
func (ex *Executor) encodeTVP(
	ctx context.Context, instance ident.Instance, bt *binder.BoundTVP,
) (any, error) {
	if bt.Accessors != nil && !bt.Accessors.Validated() && ex.schema != nil {
		dbType, err := ex.schema.GetTvpSchema(ctx, bt.TypeName.Raw(), instance)
		if err != nil {
			return nil, err
		}
		if err := tvp.Validate(bt.Accessors, dbType, ex.validationMode()); err != nil {
			_ = bt.Reader.Close()
			return nil, err
		}
	}
	return bt.Encode()
}

// execStatement renders an EXEC invocation whose named arguments
// echo the bound parameter names. Positional arguments (text-command
// style) contribute no parameter list; the server resolves them by
// position.
func execStatement(name ident.ObjectName, args []any) string {
	var b strings.Builder
	b.WriteString("EXEC ")
	b.WriteString(name.Quoted())
	first := true
	for _, a := range args {
		named, ok := a.(sql.NamedArg)
		if !ok {
			continue
		}
		if first {
			b.WriteByte(' ')
			first = false
		} else {
			b.WriteString(", ")
		}
		b.WriteString("@")
		b.WriteString(named.Name)
		b.WriteString(" = @")
		b.WriteString(named.Name)
	}
	b.WriteString(";")
	return b.String()
}
