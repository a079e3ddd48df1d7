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
	"strings"
	"testing"

	"github.com/jerkytreats/framegraph/internal/agentconfig"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/providerconfig"
)

func providerConfigOfType(typ string) providerconfig.Config {
	return providerconfig.Config{Name: "p-" + typ, Type: providerconfig.Type(typ), Model: "m"}
}

func TestBuildWorkspaceStatusUnscanned(t *testing.T) {
	a := newTestApp(t, "/ws")
	ws, err := buildWorkspaceStatus(a, false)
	if err != nil {
		t.Fatalf("buildWorkspaceStatus() failed: %v", err)
	}
	if ws.Scanned {
		t.Errorf("Scanned = true, want false before any scan/PutBatch")
	}
}

func TestBuildWorkspaceStatusCountsAndTopPaths(t *testing.T) {
	a := newTestApp(t, "/ws")
	root := &model.NodeRecord{NodeID: model.NodeID{0x01}, Path: "/ws", Type: model.NodeType{Kind: model.NodeKindDirectory}}
	child := &model.NodeRecord{NodeID: model.NodeID{0x02}, Path: "/ws/src/a.go", Type: model.NodeType{Kind: model.NodeKindFile}}
	other := &model.NodeRecord{NodeID: model.NodeID{0x03}, Path: "/ws/docs/readme.md", Type: model.NodeType{Kind: model.NodeKindFile}}
	if err := a.nodes.PutBatch([]*model.NodeRecord{root, child, other}); err != nil {
		t.Fatalf("PutBatch() failed: %v", err)
	}
	if err := a.nodes.SetRoot(root.NodeID); err != nil {
		t.Fatalf("SetRoot() failed: %v", err)
	}

	ws, err := buildWorkspaceStatus(a, true)
	if err != nil {
		t.Fatalf("buildWorkspaceStatus() failed: %v", err)
	}
	if !ws.Scanned {
		t.Fatalf("Scanned = false, want true")
	}
	if ws.Tree.TotalNodes != 3 {
		t.Errorf("TotalNodes = %d, want 3", ws.Tree.TotalNodes)
	}
	if len(ws.Tree.Breakdown) == 0 {
		t.Errorf("Breakdown is empty, want rows since includeBreakdown=true")
	}
	if len(ws.TopPathsByNodeCount) == 0 || ws.TopPathsByNodeCount[0].Path != "." {
		t.Errorf("TopPathsByNodeCount[0] should be the root entry '.'")
	}
}

func TestCountNodesWithFrameTypeIgnoresTombstonedHeads(t *testing.T) {
	a := newTestApp(t, "/ws")
	live := &model.NodeRecord{NodeID: model.NodeID{0x01}, Path: "/ws/a", Type: model.NodeType{Kind: model.NodeKindFile}}
	dead := &model.NodeRecord{NodeID: model.NodeID{0x02}, Path: "/ws/b", Type: model.NodeType{Kind: model.NodeKindFile}}
	none := &model.NodeRecord{NodeID: model.NodeID{0x03}, Path: "/ws/c", Type: model.NodeType{Kind: model.NodeKindFile}}
	records := []*model.NodeRecord{live, dead, none}

	a.heads.Set(live.NodeID, "context-writer", model.FrameID{0xAA})
	a.heads.Set(dead.NodeID, "context-writer", model.FrameID{0xBB})
	a.heads.Tombstone(dead.NodeID, "context-writer", 1000)

	got := countNodesWithFrameType(a, records, "context-writer")
	if got != 1 {
		t.Errorf("countNodesWithFrameType() = %d, want 1", got)
	}
}

func TestBuildContextCoverageOnlyCountsWriterAgents(t *testing.T) {
	a := newTestApp(t, "/ws")
	if err := a.agents.Create(agentconfig.Config{AgentID: "writer-one", Role: agentconfig.RoleWriter, PromptPath: "/tmp/p"}); err != nil {
		t.Fatalf("Create(writer) failed: %v", err)
	}
	if err := a.agents.Create(agentconfig.Config{AgentID: "reader-one", Role: agentconfig.RoleReader}); err != nil {
		t.Fatalf("Create(reader) failed: %v", err)
	}

	rec := &model.NodeRecord{NodeID: model.NodeID{0x01}, Path: "/ws/a", Type: model.NodeType{Kind: model.NodeKindFile}}
	a.heads.Set(rec.NodeID, "context-writer-one", model.FrameID{0xAA})

	coverage, err := buildContextCoverage(a, []*model.NodeRecord{rec}, 1)
	if err != nil {
		t.Fatalf("buildContextCoverage() failed: %v", err)
	}
	if len(coverage) != 1 {
		t.Fatalf("buildContextCoverage() len = %d, want 1 (reader agents excluded)", len(coverage))
	}
	if coverage[0].AgentID != "writer-one" || coverage[0].CoveragePct != 100 {
		t.Errorf("coverage entry = %+v, want writer-one at 100%%", coverage[0])
	}
}

func TestTestProviderConnectivitySkipsNonLocal(t *testing.T) {
	for _, typ := range []string{"openai", "anthropic", "ollama"} {
		t.Run(typ, func(t *testing.T) {
			got := testProviderConnectivity(providerConfigOfType(typ))
			if got != "skipped" {
				t.Errorf("testProviderConnectivity(%s) = %q, want skipped", typ, got)
			}
		})
	}
}

func TestTestProviderConnectivityExercisesLocal(t *testing.T) {
	got := testProviderConnectivity(providerConfigOfType("local"))
	if got != "ok" {
		t.Errorf("testProviderConnectivity(local) = %q, want ok", got)
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"x", "1"}, {"yy", "22"}})
	if !strings.Contains(out, "A") || !strings.Contains(out, "yy") {
		t.Errorf("renderTable() output missing expected content: %q", out)
	}
}
