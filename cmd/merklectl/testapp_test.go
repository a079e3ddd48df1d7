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

package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jerkytreats/framegraph/internal/agentconfig"
	"github.com/jerkytreats/framegraph/internal/basisindex"
	"github.com/jerkytreats/framegraph/internal/framestore"
	"github.com/jerkytreats/framegraph/internal/headindex"
	"github.com/jerkytreats/framegraph/internal/lockmgr"
	"github.com/jerkytreats/framegraph/internal/nodestore"
	"github.com/jerkytreats/framegraph/internal/providerconfig"
	"github.com/jerkytreats/framegraph/internal/telemetry"
	"github.com/jerkytreats/framegraph/internal/writeboundary"
)

// newTestApp wires an *app against a scratch workspace under t.TempDir(),
// bypassing openApp's XDG directory resolution so tests never touch a real
// user config/data/state tree.
func newTestApp(t *testing.T, workspaceRoot string) *app {
	t.Helper()
	dir := t.TempDir()

	nodes, err := nodestore.Open(filepath.Join(dir, "nodes"))
	if err != nil {
		t.Fatalf("nodestore.Open() failed: %v", err)
	}
	frames, err := framestore.Open(filepath.Join(dir, "frames"))
	if err != nil {
		t.Fatalf("framestore.Open() failed: %v", err)
	}
	heads, err := headindex.Open(filepath.Join(dir, "head_index.gob"))
	if err != nil {
		t.Fatalf("headindex.Open() failed: %v", err)
	}
	basis, err := basisindex.Open(filepath.Join(dir, "basis_index.gob"))
	if err != nil {
		t.Fatalf("basisindex.Open() failed: %v", err)
	}
	locks := lockmgr.New(0)

	telemetryStore, err := telemetry.Open(filepath.Join(dir, "telemetry"))
	if err != nil {
		t.Fatalf("telemetry.Open() failed: %v", err)
	}
	rt := telemetry.NewRuntime(telemetryStore, 32, time.Second)

	agents, err := agentconfig.Open(filepath.Join(dir, "agents"))
	if err != nil {
		t.Fatalf("agentconfig.Open() failed: %v", err)
	}
	providers, err := providerconfig.Open(filepath.Join(dir, "providers"))
	if err != nil {
		t.Fatalf("providerconfig.Open() failed: %v", err)
	}

	a := &app{
		workspaceRoot:  workspaceRoot,
		nodes:          nodes,
		frames:         frames,
		heads:          heads,
		basis:          basis,
		locks:          locks,
		telemetryStore: telemetryStore,
		telemetry:      rt,
		agents:         agents,
		providers:      providers,
	}
	a.boundary = &writeboundary.Boundary{Frames: frames, Heads: heads, Basis: basis, Locks: locks}

	sessionID, err := rt.StartSession("test")
	if err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}
	a.sessionID = sessionID

	t.Cleanup(func() {
		_ = a.telemetry.Close()
		_ = a.nodes.Close()
	})
	return a
}
