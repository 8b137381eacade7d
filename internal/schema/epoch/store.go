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

// Package epoch tracks a monotonic per-instance counter in shared
// storage. A bumped epoch tells every other process that its local
// schema caches for that instance are stale.
package epoch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wotjr1649/libdb/internal/util/ident"
)

// A Store reads and advances per-instance epoch counters held in
// storage shared between processes.
type Store interface {
	// Get reads the current epoch; an instance never flushed reads
	// as 0.
	Get(ctx context.Context, instance ident.Instance) (uint64, error)
	// Increment atomically advances the epoch and returns the new
	// value.
	Increment(ctx context.Context, instance ident.Instance) (uint64, error)
}

// MemoryStore is a process-local Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu     sync.Mutex
	epochs map[ident.Instance]uint64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{epochs: make(map[ident.Instance]uint64)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, instance ident.Instance) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[instance], nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, instance ident.Instance) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[instance]++
	return s.epochs[instance], nil
}

// FileStore keeps one small file per instance under a base
// directory. The file holds the counter and a wall-clock stamp.
// Concurrent increments from different processes may race by at most
// one step, which the protocol tolerates.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create epoch directory")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(instance ident.Instance) string {
	// Instance ids are hex hashes, directly usable as file names.
	return filepath.Join(s.dir, "epoch-"+instance.Raw())
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, instance ident.Instance) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(instance)
}

// Increment implements Store.
func (s *FileStore) Increment(_ context.Context, instance ident.Instance) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.read(instance)
	if err != nil {
		return 0, err
	}
	next := current + 1
	// Write-then-rename keeps readers from observing a torn value.
	tmp := s.path(instance) + ".tmp"
	payload := fmt.Sprintf("%d %d\n", next, time.Now().UnixNano())
	if err := os.WriteFile(tmp, []byte(payload), 0o644); err != nil {
		return 0, errors.Wrap(err, "could not stage epoch")
	}
	if err := os.Rename(tmp, s.path(instance)); err != nil {
		return 0, errors.Wrap(err, "could not publish epoch")
	}
	return next, nil
}

func (s *FileStore) read(instance ident.Instance) (uint64, error) {
	buf, err := os.ReadFile(s.path(instance))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "could not read epoch")
	}
	value, _, _ := strings.Cut(strings.TrimSpace(string(buf)), " ")
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed epoch file %s", s.path(instance))
	}
	return n, nil
}
