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

// Package writeboundary is the single frame-write path of spec.md §4.9:
// every writer, human or generation pipeline, goes through Write, which
// validates metadata, takes the per-node lock, stores the frame, updates
// the Head Index, records the basis, releases the lock, and emits
// telemetry on a best-effort basis. Grounded on the shared validation
// boundary in the original's metadata/frame_write_contract.rs.
package writeboundary

import (
	"github.com/jerkytreats/framegraph/internal/basisindex"
	"github.com/jerkytreats/framegraph/internal/framestore"
	"github.com/jerkytreats/framegraph/internal/headindex"
	"github.com/jerkytreats/framegraph/internal/lockmgr"
	"github.com/jerkytreats/framegraph/internal/model"
)

// Capability enumerates the write-boundary permissions a caller may hold.
type Capability int

const (
	// CapabilityReader may only read; Write always rejects a reader.
	CapabilityReader Capability = iota
	// CapabilityWriter may write frames on behalf of a specific agent_id.
	CapabilityWriter
	// CapabilitySynthesis may write generated frames for any agent_id
	// (the generation executor's capability).
	CapabilitySynthesis
)

// Boundary wires the stores a frame write touches.
type Boundary struct {
	Frames *framestore.Store
	Heads  *headindex.Index
	Basis  *basisindex.Index
	Locks  *lockmgr.Manager

	// OnWritten is called after a successful write, outside the per-node
	// lock, for best-effort telemetry emission. May be nil.
	OnWritten func(node model.NodeID, f *model.Frame)
}

// ValidateMetadata enforces the §3 allow-set on metadata keys and that
// agent_id (when present) matches the acting agent.
func ValidateMetadata(metadata map[string]string, agentID string) error {
	for k := range metadata {
		if !model.AllowedFrameMetadataKeys[k] {
			return model.NewFrameMetadataPolicyViolation("frame metadata key is not allowed: " + k)
		}
	}
	if got, ok := metadata["agent_id"]; ok && got != agentID {
		return model.NewInvalidFrame("frame metadata agent_id '" + got + "' does not match acting agent_id '" + agentID + "'")
	}
	return nil
}

// Write performs the full write-boundary sequence for a single frame
// attached to node. cap must be CapabilityWriter or CapabilitySynthesis.
func (b *Boundary) Write(cap Capability, node model.NodeID, f *model.Frame) error {
	if cap == CapabilityReader {
		return model.NewUnauthorized("reader capability cannot write frames")
	}
	if err := ValidateMetadata(f.Metadata, f.AgentID); err != nil {
		return err
	}

	unlock := b.Locks.Lock(node)
	if err := b.Frames.Put(f); err != nil {
		unlock()
		return err
	}
	b.Heads.Set(node, f.FrameType, f.FrameID)
	b.Basis.Record(f.Basis, f.FrameID)
	unlock()

	if b.OnWritten != nil {
		b.OnWritten(node, f)
	}
	return nil
}

// Delete writes a tombstone frame (the §3 deletion-marker convention: a
// frame whose metadata carries deleted=true) and tombstones the head.
func (b *Boundary) Delete(cap Capability, node model.NodeID, frameType, agentID string, tombstone *model.Frame, unixSeconds int64) error {
	if err := b.Write(cap, node, tombstone); err != nil {
		return err
	}
	unlock := b.Locks.Lock(node)
	defer unlock()
	b.Heads.Tombstone(node, frameType, unixSeconds)
	return nil
}
