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

package writeboundary

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jerkytreats/framegraph/internal/basisindex"
	"github.com/jerkytreats/framegraph/internal/framestore"
	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/headindex"
	"github.com/jerkytreats/framegraph/internal/lockmgr"
	"github.com/jerkytreats/framegraph/internal/model"
)

func newBoundary(t *testing.T) *Boundary {
	t.Helper()
	dir := t.TempDir()
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
	return &Boundary{Frames: frames, Heads: heads, Basis: basis, Locks: lockmgr.New(0)}
}

func TestWriteRejectsReaderCapability(t *testing.T) {
	b := newBoundary(t)
	var node model.NodeID
	node[0] = 1
	basis := model.NodeBasis(node)
	f := &model.Frame{
		FrameID:   hashid.FrameIdentity(basis, []byte("x"), "summary", "agent-a"),
		Basis:     basis,
		Content:   []byte("x"),
		FrameType: "summary",
		AgentID:   "agent-a",
		Metadata:  map[string]string{"agent_id": "agent-a"},
		Timestamp: time.Now(),
	}
	err := b.Write(CapabilityReader, node, f)
	if model.KindOf(err) != model.KindUnauthorized {
		t.Fatalf("Write() kind = %v, want Unauthorized", model.KindOf(err))
	}
}

func TestWriteRejectsDisallowedMetadataKey(t *testing.T) {
	b := newBoundary(t)
	var node model.NodeID
	node[0] = 1
	basis := model.NodeBasis(node)
	f := &model.Frame{
		FrameID:   hashid.FrameIdentity(basis, []byte("x"), "summary", "agent-a"),
		Basis:     basis,
		Content:   []byte("x"),
		FrameType: "summary",
		AgentID:   "agent-a",
		Metadata:  map[string]string{"agent_id": "agent-a", "unknown_key": "z"},
		Timestamp: time.Now(),
	}
	err := b.Write(CapabilityWriter, node, f)
	if model.KindOf(err) != model.KindFrameMetadataPolicyViolation {
		t.Fatalf("Write() kind = %v, want FrameMetadataPolicyViolation", model.KindOf(err))
	}
}

func TestWriteSucceedsAndUpdatesHeadAndBasis(t *testing.T) {
	b := newBoundary(t)
	var node model.NodeID
	node[0] = 1
	basis := model.NodeBasis(node)
	content := []byte("hello")
	f := &model.Frame{
		FrameID:   hashid.FrameIdentity(basis, content, "summary", "agent-a"),
		Basis:     basis,
		Content:   content,
		FrameType: "summary",
		AgentID:   "agent-a",
		Metadata:  map[string]string{"agent_id": "agent-a"},
		Timestamp: time.Now(),
	}

	var notified model.FrameID
	b.OnWritten = func(n model.NodeID, wf *model.Frame) { notified = wf.FrameID }

	if err := b.Write(CapabilityWriter, node, f); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if notified != f.FrameID {
		t.Errorf("OnWritten not called with written frame")
	}

	head, ok := b.Heads.Get(node, "summary")
	if !ok || head.Head != f.FrameID {
		t.Fatalf("Heads.Get() = %+v, %v, want head %v", head, ok, f.FrameID)
	}

	stale := b.Basis.IsStale(f.FrameID, basis)
	if stale {
		t.Errorf("Basis.IsStale() = true immediately after write")
	}
}

func TestDeleteTombstonesHead(t *testing.T) {
	b := newBoundary(t)
	var node model.NodeID
	node[0] = 2
	basis := model.NodeBasis(node)
	content := []byte("to-delete")
	tombstone := &model.Frame{
		FrameID:   hashid.FrameIdentity(basis, content, "summary", "agent-a"),
		Basis:     basis,
		Content:   content,
		FrameType: "summary",
		AgentID:   "agent-a",
		Metadata:  map[string]string{"agent_id": "agent-a", "deleted": "true"},
		Timestamp: time.Now(),
	}

	if err := b.Delete(CapabilityWriter, node, "summary", "agent-a", tombstone, 999); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	head, ok := b.Heads.Get(node, "summary")
	if !ok {
		t.Fatalf("Heads.Get() ok=false after delete")
	}
	if head.TombstonedAt == nil || *head.TombstonedAt != 999 {
		t.Errorf("Heads.Get().TombstonedAt = %v, want 999", head.TombstonedAt)
	}
}
