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

package headindex

import (
	"path/filepath"
	"testing"

	"github.com/jerkytreats/framegraph/internal/model"
)

func TestSetGetAndSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "heads.snap")

	idx, err := Open(snap)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	var node model.NodeID
	node[0] = 1
	var frame model.FrameID
	frame[0] = 9

	idx.Set(node, "summary", frame)

	got, ok := idx.Get(node, "summary")
	if !ok || got.Head != frame {
		t.Fatalf("Get() = %+v, %v, want head %v", got, ok, frame)
	}

	if err := idx.Snapshot(); err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}

	reloaded, err := Open(snap)
	if err != nil {
		t.Fatalf("Open() (reload) failed: %v", err)
	}
	got, ok = reloaded.Get(node, "summary")
	if !ok || got.Head != frame {
		t.Fatalf("reloaded Get() = %+v, %v, want head %v", got, ok, frame)
	}
}

func TestTombstoneRetainsHead(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "heads.snap"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	var node model.NodeID
	node[0] = 2
	var frame model.FrameID
	frame[0] = 3
	idx.Set(node, "doc", frame)
	idx.Tombstone(node, "doc", 12345)

	got, ok := idx.Get(node, "doc")
	if !ok {
		t.Fatalf("Get() ok=false after tombstone")
	}
	if got.Head != frame {
		t.Errorf("Get().Head = %v, want retained %v", got.Head, frame)
	}
	if got.TombstonedAt == nil || *got.TombstonedAt != 12345 {
		t.Errorf("Get().TombstonedAt = %v, want 12345", got.TombstonedAt)
	}
}

func TestListByNode(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "heads.snap"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	var a, b model.NodeID
	a[0], b[0] = 1, 2
	var f1, f2, f3 model.FrameID
	f1[0], f2[0], f3[0] = 1, 2, 3

	idx.Set(a, "summary", f1)
	idx.Set(a, "doc", f2)
	idx.Set(b, "summary", f3)

	byNode := idx.ListByNode(a)
	if len(byNode) != 2 {
		t.Fatalf("ListByNode(a) = %+v, want 2 entries", byNode)
	}
	if byNode["summary"].Head != f1 || byNode["doc"].Head != f2 {
		t.Errorf("ListByNode(a) = %+v, want summary=%v doc=%v", byNode, f1, f2)
	}
}
