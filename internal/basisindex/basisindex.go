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

// Package basisindex is the Basis Index of spec.md §4.6: a reverse map from
// basis_hash to the FrameIDs generated against that basis, used to decide
// whether a frame is stale (its node or parent frame has since changed).
// Persisted the same way as the Head Index: an in-memory map snapshotted
// atomically to disk.
package basisindex

import (
	"bytes"
	"encoding/gob"
	"os"
	"sort"
	"sync"

	"github.com/jerkytreats/framegraph/internal/atomicfile"
	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/model"
)

// Index maps basis_hash -> set of FrameIDs generated against that basis,
// and the reverse FrameID -> basis_hash, so a frame's staleness can be
// checked in either direction.
type Index struct {
	mu        sync.RWMutex
	byBasis   map[model.Hash]map[model.FrameID]bool
	basisOf   map[model.FrameID]model.Hash
	snapshotP string
}

type snapshotRecord struct {
	Basis model.Hash
	Frame model.FrameID
}

// Open loads an existing snapshot from snapshotPath, if present.
func Open(snapshotPath string) (*Index, error) {
	idx := &Index{
		byBasis:   map[model.Hash]map[model.FrameID]bool{},
		basisOf:   map[model.FrameID]model.Hash{},
		snapshotP: snapshotPath,
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, model.NewIoError("failed to read basis index snapshot", err)
	}

	var records []snapshotRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return nil, model.NewInvalidFrame("failed to decode basis index snapshot: " + err.Error())
	}
	for _, r := range records {
		idx.add(r.Basis, r.Frame)
	}
	return idx, nil
}

func (idx *Index) add(basis model.Hash, frame model.FrameID) {
	set, ok := idx.byBasis[basis]
	if !ok {
		set = map[model.FrameID]bool{}
		idx.byBasis[basis] = set
	}
	set[frame] = true
	idx.basisOf[frame] = basis
}

// Record associates frameID with the hash of basis.
func (idx *Index) Record(basis model.Basis, frameID model.FrameID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.add(hashid.BasisHash(basis), frameID)
}

// FramesForBasis returns every FrameID previously generated against the
// given basis_hash.
func (idx *Index) FramesForBasis(basisHash model.Hash) []model.FrameID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.byBasis[basisHash]
	out := make([]model.FrameID, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// BasisOf returns the basis_hash a frame was generated against, if known.
func (idx *Index) BasisOf(frameID model.FrameID) (model.Hash, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	h, ok := idx.basisOf[frameID]
	return h, ok
}

// IsStale reports whether frameID's recorded basis differs from
// currentBasis, meaning its node or basis frame has since changed and it
// should be regenerated.
func (idx *Index) IsStale(frameID model.FrameID, currentBasis model.Basis) bool {
	recorded, ok := idx.BasisOf(frameID)
	if !ok {
		return true
	}
	return recorded != hashid.BasisHash(currentBasis)
}

// Snapshot persists the current state to disk atomically.
func (idx *Index) Snapshot() error {
	idx.mu.RLock()
	records := make([]snapshotRecord, 0, len(idx.basisOf))
	for frame, basis := range idx.basisOf {
		records = append(records, snapshotRecord{Basis: basis, Frame: frame})
	}
	idx.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Basis != records[j].Basis {
			return records[i].Basis.String() < records[j].Basis.String()
		}
		return records[i].Frame.String() < records[j].Frame.String()
	})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return model.NewIoError("failed to encode basis index snapshot", err)
	}
	if err := atomicfile.Overwrite(idx.snapshotP, buf.Bytes()); err != nil {
		return model.NewIoError("failed to write basis index snapshot", err)
	}
	return nil
}
