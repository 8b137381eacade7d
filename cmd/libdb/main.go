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

// Package main contains the operational CLI for the libdb schema
// service: cache warm-up, cross-process flushes, and epoch
// inspection against a configured instance.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wotjr1649/libdb/internal/cache"
	"github.com/wotjr1649/libdb/internal/schema/epoch"
	"github.com/wotjr1649/libdb/internal/schema/repo"
	"github.com/wotjr1649/libdb/internal/schema/service"
	"github.com/wotjr1649/libdb/internal/util/ident"
	"github.com/wotjr1649/libdb/internal/util/stdpool"
	"github.com/wotjr1649/libdb/internal/util/stopper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

type flags struct {
	conn     string
	epochDir string
	schemas  []string
	service  service.Config
}

func rootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "libdb",
		Short:         "operational tooling for the libdb schema service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.conn, "conn", "", "SQL Server connection string")
	pf.StringVar(&f.epochDir, "epochDir", os.TempDir(), "directory holding shared epoch files")
	pf.StringSliceVar(&f.schemas, "schemas", []string{"dbo"}, "database schemas to operate on")
	f.service.Bind(pf)

	root.AddCommand(preloadCmd(f), flushCmd(f), epochCmd(f))
	return root
}

// open wires the minimal service graph used by the subcommands.
func open(ctx *stopper.Context, f *flags) (*service.Service, func(), error) {
	if f.conn == "" {
		return nil, nil, fmt.Errorf("--conn must be set")
	}
	pool, cancel, err := stdpool.OpenMSSQL(ctx, f.conn)
	if err != nil {
		return nil, nil, err
	}
	store, err := epoch.NewFileStore(f.epochDir)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	svc, err := service.New(f.service, repo.New(pool), cache.NewMemory(),
		epoch.NewCoordinator(store))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return svc, cancel, nil
}

// poolInstance derives the partition key the same way the pool
// opener does, so offline subcommands agree with online ones.
func poolInstance(f *flags) ident.Instance {
	return ident.NewInstance(f.conn)
}

func preloadCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "preload",
		Short: "warm the schema caches for the configured schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := stopper.WithContext(cmd.Context())
			defer func() { _ = ctx.Wait() }()
			svc, cancel, err := open(ctx, f)
			if err != nil {
				return err
			}
			defer cancel()
			pool := poolInstance(f)
			result, err := svc.PreloadSchema(ctx, f.schemas, pool)
			if err != nil {
				return err
			}
			fmt.Printf("loaded %d schema records\n", result.Loaded)
			if len(result.MissingSchemas) > 0 {
				fmt.Printf("missing schemas: %s\n", strings.Join(result.MissingSchemas, ", "))
			}
			return nil
		},
	}
}

func flushCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "advance the instance epoch and purge every schema cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := stopper.WithContext(cmd.Context())
			defer func() { _ = ctx.Wait() }()
			svc, cancel, err := open(ctx, f)
			if err != nil {
				return err
			}
			defer cancel()
			return svc.FlushSchema(ctx, poolInstance(f))
		},
	}
}

func epochCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "epoch",
		Short: "print the shared epoch for the configured instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := epoch.NewFileStore(f.epochDir)
			if err != nil {
				return err
			}
			value, err := store.Get(context.Background(), poolInstance(f))
			if err != nil {
				return err
			}
			fmt.Printf("%d\n", value)
			return nil
		},
	}
}
