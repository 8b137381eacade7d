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

package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wotjr1649/libdb/internal/types"
	"github.com/wotjr1649/libdb/internal/util/ident"
)

// PreloadResult summarizes a bulk warm-up.
type PreloadResult struct {
	// Loaded is the number of schema records published.
	Loaded int
	// MissingSchemas lists requested database schemas that do not
	// exist on the instance.
	MissingSchemas []string
}

// PreloadSchema warms every cache layer for the listed database
// schemas with one catalog round-trip. Snapshot writes run under a
// bulk-load scope so a single merge publishes the full set.
func (s *Service) PreloadSchema(
	ctx context.Context, schemas []string, instance ident.Instance,
) (*PreloadResult, error) {
	start := time.Now()
	catalog, err := s.repo.GetAllMetadata(ctx, schemas)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	ret := &PreloadResult{}
	s.sp.snap.BulkLoad(func() {
		for key, version := range catalog.SpVersions {
			name := ident.ParseObjectName(key)
			rec := &types.SpSchema{
				Name:         key,
				VersionToken: version,
				LastChecked:  now,
				Parameters:   catalog.SpParameters[key],
			}
			s.sp.snap.Put(instance, name, rec)
			s.sp.cachePut(ctx, s.sp.cacheKey(instance, name), rec, instance)
			ret.Loaded++
		}
	})
	s.tvp.snap.BulkLoad(func() {
		for key, version := range catalog.TvpVersions {
			name := ident.ParseObjectName(key)
			rec := &types.TvpSchema{
				Name:         key,
				VersionToken: version,
				LastChecked:  now,
				Columns:      catalog.TvpColumns[key],
			}
			s.tvp.snap.Put(instance, name, rec)
			s.tvp.cachePut(ctx, s.tvp.cacheKey(instance, name), rec, instance)
			ret.Loaded++
		}
	})

	found := make(map[string]struct{}, len(catalog.FoundSchemas))
	for _, name := range catalog.FoundSchemas {
		found[ident.Lower(name)] = struct{}{}
	}
	for _, requested := range schemas {
		if _, ok := found[ident.Lower(requested)]; !ok {
			ret.MissingSchemas = append(ret.MissingSchemas, requested)
		}
	}

	preloadDurations.WithLabelValues(instance.Raw()).Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"instance": instance,
		"loaded":   ret.Loaded,
		"missing":  ret.MissingSchemas,
	}).Info("preloaded schema metadata")
	return ret, nil
}
