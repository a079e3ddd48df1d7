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
	"testing"
	"time"

	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/model"
)

func TestBuildGenerationLevelsNonRecursiveIsSingleItem(t *testing.T) {
	a := newTestApp(t, "/ws")
	rec := &model.NodeRecord{NodeID: model.NodeID{0x01}, Path: "/ws/a.txt", Type: model.NodeType{Kind: model.NodeKindFile}}
	if err := a.nodes.Put(rec); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	levels, err := buildGenerationLevels(a, rec.NodeID, false, "writer", "local", "context-writer", false)
	if err != nil {
		t.Fatalf("buildGenerationLevels() failed: %v", err)
	}
	if len(levels) != 1 || len(levels[0]) != 1 {
		t.Fatalf("levels = %+v, want exactly one level with one item", levels)
	}
	if levels[0][0].NodeID != rec.NodeID {
		t.Errorf("item NodeID = %v, want %v", levels[0][0].NodeID, rec.NodeID)
	}
}

func TestBuildGenerationLevelsRecursiveOrdersChildrenBeforeParent(t *testing.T) {
	a := newTestApp(t, "/ws")
	child := &model.NodeRecord{NodeID: model.NodeID{0x02}, Path: "/ws/dir/child.txt", Type: model.NodeType{Kind: model.NodeKindFile}}
	parent := &model.NodeRecord{
		NodeID:   model.NodeID{0x01},
		Path:     "/ws/dir",
		Type:     model.NodeType{Kind: model.NodeKindDirectory},
		Children: []model.NodeID{child.NodeID},
	}
	if err := a.nodes.PutBatch([]*model.NodeRecord{parent, child}); err != nil {
		t.Fatalf("PutBatch() failed: %v", err)
	}

	levels, err := buildGenerationLevels(a, parent.NodeID, true, "writer", "local", "context-writer", false)
	if err != nil {
		t.Fatalf("buildGenerationLevels() failed: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("levels = %+v, want 2 levels (child then parent)", levels)
	}
	if len(levels[0]) != 1 || levels[0][0].NodeID != child.NodeID {
		t.Errorf("level 0 = %+v, want the leaf child", levels[0])
	}
	if len(levels[1]) != 1 || levels[1][0].NodeID != parent.NodeID {
		t.Errorf("level 1 = %+v, want the directory parent", levels[1])
	}
}

func TestItemForSetsNodeTypeFromRecord(t *testing.T) {
	file := &model.NodeRecord{NodeID: model.NodeID{0x01}, Path: "/ws/a.txt", Type: model.NodeType{Kind: model.NodeKindFile}}
	dir := &model.NodeRecord{NodeID: model.NodeID{0x02}, Path: "/ws/d", Type: model.NodeType{Kind: model.NodeKindDirectory}}

	fileItem := itemFor(file, "writer", "local", "context-writer", true)
	if fileItem.NodeType != model.GenerationNodeFile {
		t.Errorf("file NodeType = %v, want GenerationNodeFile", fileItem.NodeType)
	}
	if !fileItem.Force {
		t.Errorf("Force = false, want true")
	}

	dirItem := itemFor(dir, "writer", "local", "context-writer", false)
	if dirItem.NodeType != model.GenerationNodeDirectory {
		t.Errorf("dir NodeType = %v, want GenerationNodeDirectory", dirItem.NodeType)
	}
}

func TestFetchContextFramesFiltersByTypeAndDeletion(t *testing.T) {
	a := newTestApp(t, "/ws")
	node := model.NodeID{0x01}

	live := &model.Frame{
		FrameID: model.FrameID{0xAA}, Basis: model.NodeBasis(node),
		Content: []byte("live"), FrameType: "context-writer", AgentID: "writer", Timestamp: time.Now(),
	}
	other := &model.Frame{
		FrameID: model.FrameID{0xBB}, Basis: model.NodeBasis(node),
		Content: []byte("other"), FrameType: "summary", AgentID: "writer", Timestamp: time.Now(),
	}
	deleted := &model.Frame{
		FrameID: model.FrameID{0xCC}, Basis: model.NodeBasis(node),
		Content: []byte("gone"), FrameType: "context-writer", AgentID: "writer", Timestamp: time.Now(),
		Metadata: map[string]string{"deleted": "true"},
	}
	for _, f := range []*model.Frame{live, other, deleted} {
		f.FrameID = hashid.FrameIdentity(f.Basis, f.Content, f.FrameType, f.AgentID)
		if err := a.frames.Put(f); err != nil {
			t.Fatalf("Put(%s) failed: %v", f.FrameID, err)
		}
		a.basis.Record(f.Basis, f.FrameID)
	}

	ordering, ok := model.ParseOrderingPolicy("recency")
	if !ok {
		t.Fatal("ParseOrderingPolicy(recency) = false, want true")
	}

	got, err := fetchContextFrames(a, node.String(), "", "", "context-writer", 10, ordering, false)
	if err != nil {
		t.Fatalf("fetchContextFrames() failed: %v", err)
	}
	if len(got) != 1 || got[0].FrameID != live.FrameID {
		t.Fatalf("fetchContextFrames() = %+v, want only the live context-writer frame", got)
	}
}

func TestFrameOutputsRespectsIncludeMetadata(t *testing.T) {
	f := &model.Frame{
		FrameID: model.FrameID{0x01}, Content: []byte("hi"), FrameType: "t", AgentID: "a",
		Metadata: map[string]string{"provider": "local"}, Timestamp: time.Now(),
	}
	withMeta := frameOutputs([]*model.Frame{f}, true)
	if len(withMeta) != 1 || withMeta[0].Metadata == nil {
		t.Fatalf("frameOutputs(includeMetadata=true) = %+v, want metadata present", withMeta)
	}
	withoutMeta := frameOutputs([]*model.Frame{f}, false)
	if withoutMeta[0].Metadata != nil {
		t.Errorf("frameOutputs(includeMetadata=false) = %+v, want nil metadata", withoutMeta)
	}
	if withoutMeta[0].Content != "hi" {
		t.Errorf("Content = %q, want %q", withoutMeta[0].Content, "hi")
	}
}
