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

// Package headindex is the Head Index of spec.md §4.5: for every
// (NodeID, frame_type) pair, the FrameID of the current head frame, plus a
// tombstone marker when the head has been logically deleted. Held entirely
// in memory, guarded by an RWMutex, and periodically snapshotted to disk
// with the same atomic-write discipline as the Frame Store.
package headindex

import (
	"bytes"
	"encoding/gob"
	"os"
	"sort"
	"sync"

	"github.com/jerkytreats/framegraph/internal/atomicfile"
	"github.com/jerkytreats/framegraph/internal/model"
)

// Key identifies one head slot.
type Key struct {
	Node      model.NodeID
	FrameType string
}

// Index is the in-memory, disk-backed Head Index.
type Index struct {
	mu        sync.RWMutex
	heads     map[Key]model.HeadEntry
	snapshotP string
}

type snapshotRecord struct {
	Node         model.NodeID
	FrameType    string
	Head         model.FrameID
	TombstonedAt *int64
}

// Open loads an existing snapshot from snapshotPath, if present, or starts
// empty.
func Open(snapshotPath string) (*Index, error) {
	idx := &Index{
		heads:     map[Key]model.HeadEntry{},
		snapshotP: snapshotPath,
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, model.NewIoError("failed to read head index snapshot", err)
	}

	var records []snapshotRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return nil, model.NewInvalidFrame("failed to decode head index snapshot: " + err.Error())
	}
	for _, r := range records {
		idx.heads[Key{Node: r.Node, FrameType: r.FrameType}] = model.HeadEntry{
			Head:         r.Head,
			TombstonedAt: r.TombstonedAt,
		}
	}
	return idx, nil
}

// Get returns the current head entry for (node, frameType), and whether one
// exists at all (tombstoned heads still report ok=true; callers check
// TombstonedAt).
func (idx *Index) Get(node model.NodeID, frameType string) (model.HeadEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.heads[Key{Node: node, FrameType: frameType}]
	return e, ok
}

// Set records frameID as the new head for (node, frameType), clearing any
// prior tombstone.
func (idx *Index) Set(node model.NodeID, frameType string, frameID model.FrameID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.heads[Key{Node: node, FrameType: frameType}] = model.HeadEntry{Head: frameID}
}

// Tombstone marks the current head for (node, frameType) deleted at
// unixSeconds without removing the entry (the head pointer is retained so
// regeneration can still see what it's replacing).
func (idx *Index) Tombstone(node model.NodeID, frameType string, unixSeconds int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := Key{Node: node, FrameType: frameType}
	e := idx.heads[k]
	e.TombstonedAt = &unixSeconds
	idx.heads[k] = e
}

// ListByNode returns every (frameType -> head entry) pair recorded for node.
func (idx *Index) ListByNode(node model.NodeID) map[string]model.HeadEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := map[string]model.HeadEntry{}
	for k, v := range idx.heads {
		if k.Node == node {
			out[k.FrameType] = v
		}
	}
	return out
}

// Snapshot persists the current state to disk atomically.
func (idx *Index) Snapshot() error {
	idx.mu.RLock()
	records := make([]snapshotRecord, 0, len(idx.heads))
	for k, v := range idx.heads {
		records = append(records, snapshotRecord{
			Node:         k.Node,
			FrameType:    k.FrameType,
			Head:         v.Head,
			TombstonedAt: v.TombstonedAt,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Node != records[j].Node {
			return records[i].Node.String() < records[j].Node.String()
		}
		return records[i].FrameType < records[j].FrameType
	})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return model.NewIoError("failed to encode head index snapshot", err)
	}
	if err := atomicfile.Overwrite(idx.snapshotP, buf.Bytes()); err != nil {
		return model.NewIoError("failed to write head index snapshot", err)
	}
	return nil
}
