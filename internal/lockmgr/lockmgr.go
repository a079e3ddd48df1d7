// Copyright 2024 The Tessera authors. All Rights Reserved.
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

// Package lockmgr hands out a per-node RWMutex (§4.7), so concurrent
// writers to distinct nodes never contend while writers and readers of the
// same node still serialize correctly. Go has no weak references, so unlike
// the original's refcounted Arc<RwLock<>> per node, locks are held in a
// bounded LRU: a lock falling out of the LRU while still in use is kept
// alive by the refcount on its entry, and eviction only reclaims slots with
// zero outstanding holders.
package lockmgr

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jerkytreats/framegraph/internal/model"
)

const defaultCapacity = 8192

type entry struct {
	mu       sync.RWMutex
	refCount int
}

// Manager is a registry of per-node locks.
type Manager struct {
	mu      sync.Mutex // guards cache + refCount bookkeeping
	cache   *lru.Cache[model.NodeID, *entry]
	pending map[model.NodeID]*entry // entries with refCount > 0, kept alive regardless of LRU eviction
}

// New creates a Manager whose LRU holds up to capacity idle locks before
// evicting the least recently used. capacity <= 0 selects a default.
func New(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, _ := lru.New[model.NodeID, *entry](capacity)
	return &Manager{cache: c, pending: map[model.NodeID]*entry{}}
}

func (m *Manager) acquire(id model.NodeID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.pending[id]; ok {
		e.refCount++
		return e
	}
	if e, ok := m.cache.Get(id); ok {
		e.refCount++
		m.pending[id] = e
		return e
	}
	e := &entry{refCount: 1}
	m.pending[id] = e
	return e
}

func (m *Manager) release(id model.NodeID, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refCount--
	if e.refCount <= 0 {
		delete(m.pending, id)
		m.cache.Add(id, e)
	}
}

// Lock acquires the write lock for id, returning an unlock function that
// must be called exactly once.
func (m *Manager) Lock(id model.NodeID) func() {
	e := m.acquire(id)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.release(id, e)
	}
}

// RLock acquires the read lock for id, returning an unlock function that
// must be called exactly once.
func (m *Manager) RLock(id model.NodeID) func() {
	e := m.acquire(id)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		m.release(id, e)
	}
}
