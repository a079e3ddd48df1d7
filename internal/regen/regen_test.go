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

package regen

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jerkytreats/framegraph/internal/basisindex"
	"github.com/jerkytreats/framegraph/internal/framestore"
	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/headindex"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/nodestore"
)

func newChecker(t *testing.T) *Checker {
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
	heads, err := headindex.Open(filepath.Join(dir, "heads.snap"))
	if err != nil {
		t.Fatalf("headindex.Open() failed: %v", err)
	}
	basis, err := basisindex.Open(filepath.Join(dir, "basis.snap"))
	if err != nil {
		t.Fatalf("basisindex.Open() failed: %v", err)
	}

	return &Checker{Nodes: nodes, Frames: frames, Heads: heads, Basis: basis}
}

func putFrame(t *testing.T, c *Checker, node model.NodeID, frameType string, content []byte, metadata map[string]string) model.FrameID {
	t.Helper()
	basis := model.NodeBasis(node)
	id := hashid.FrameIdentity(basis, content, frameType, "agent-a")
	f := &model.Frame{
		FrameID:   id,
		Basis:     basis,
		Content:   content,
		FrameType: frameType,
		AgentID:   "agent-a",
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
	if err := c.Frames.Put(f); err != nil {
		t.Fatalf("Frames.Put() failed: %v", err)
	}
	c.Heads.Set(node, frameType, id)
	c.Basis.Record(basis, id)
	return id
}

func TestDetectNodeNotStaleRightAfterWrite(t *testing.T) {
	c := newChecker(t)
	node := model.NodeID{0x01}
	if err := c.Nodes.Put(&model.NodeRecord{NodeID: node, Path: "/a", Type: model.NodeType{Kind: model.NodeKindFile}}); err != nil {
		t.Fatalf("Nodes.Put() failed: %v", err)
	}
	putFrame(t, c, node, "summary", []byte("hello"), map[string]string{"agent_id": "agent-a"})

	report, err := c.DetectNode(node)
	if err != nil {
		t.Fatalf("DetectNode() failed: %v", err)
	}
	if len(report.StaleFrameTypes) != 0 {
		t.Fatalf("StaleFrameTypes = %v, want none", report.StaleFrameTypes)
	}
}

func TestDetectNodeSkipsLegacySynthesizedFrames(t *testing.T) {
	c := newChecker(t)
	node := model.NodeID{0x02}
	if err := c.Nodes.Put(&model.NodeRecord{NodeID: node, Path: "/b", Type: model.NodeType{Kind: model.NodeKindFile}}); err != nil {
		t.Fatalf("Nodes.Put() failed: %v", err)
	}
	putFrame(t, c, node, "legacy_summary", []byte("old"), map[string]string{"agent_id": "agent-a", "basis_hash": "deadbeef"})

	report, err := c.DetectNode(node)
	if err != nil {
		t.Fatalf("DetectNode() failed: %v", err)
	}
	if len(report.StaleFrameTypes) != 0 {
		t.Fatalf("StaleFrameTypes = %v, want none (legacy frames are skipped)", report.StaleFrameTypes)
	}
	if report.LegacySynthesisCount != 1 {
		t.Fatalf("LegacySynthesisCount = %d, want 1", report.LegacySynthesisCount)
	}
}

func TestDetectNodeIgnoresNewNodeAtSamePath(t *testing.T) {
	c := newChecker(t)
	node := model.NodeID{0x03}
	if err := c.Nodes.Put(&model.NodeRecord{NodeID: node, Path: "/c", Type: model.NodeType{Kind: model.NodeKindFile}}); err != nil {
		t.Fatalf("Nodes.Put() failed: %v", err)
	}
	putFrame(t, c, node, "summary", []byte("v1"), map[string]string{"agent_id": "agent-a"})

	// Put a record with a different NodeID at the same path. DetectNode
	// looks the node up by its own NodeID, whose record is unchanged, so the
	// frame's recorded basis still matches.
	changed := model.NodeID{0x99}
	if err := c.Nodes.Put(&model.NodeRecord{NodeID: changed, Path: "/c", Type: model.NodeType{Kind: model.NodeKindFile}}); err != nil {
		t.Fatalf("Nodes.Put() failed: %v", err)
	}

	report, err := c.DetectNode(node)
	if err != nil {
		t.Fatalf("DetectNode() failed: %v", err)
	}
	if len(report.StaleFrameTypes) != 0 {
		t.Fatalf("StaleFrameTypes = %v, want none since node identity itself did not change", report.StaleFrameTypes)
	}
}

func TestDetectSubtreeAggregatesChildren(t *testing.T) {
	c := newChecker(t)
	child := model.NodeID{0x10}
	parent := model.NodeID{0x11}

	if err := c.Nodes.Put(&model.NodeRecord{NodeID: child, Path: "/p/child", Type: model.NodeType{Kind: model.NodeKindFile}}); err != nil {
		t.Fatalf("Nodes.Put(child) failed: %v", err)
	}
	if err := c.Nodes.Put(&model.NodeRecord{NodeID: parent, Path: "/p", Type: model.NodeType{Kind: model.NodeKindDirectory}, Children: []model.NodeID{child}}); err != nil {
		t.Fatalf("Nodes.Put(parent) failed: %v", err)
	}

	putFrame(t, c, child, "legacy", []byte("x"), map[string]string{"agent_id": "agent-a", "synthesis_policy": "auto"})
	putFrame(t, c, parent, "summary", []byte("y"), map[string]string{"agent_id": "agent-a"})

	reports, legacyTotal, err := c.DetectSubtree(parent)
	if err != nil {
		t.Fatalf("DetectSubtree() failed: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("reports = %+v, want none (nothing stale in this fixture)", reports)
	}
	if legacyTotal != 1 {
		t.Fatalf("legacyTotal = %d, want 1", legacyTotal)
	}
}
