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

package model

import "time"

// BasisKind discriminates the Basis tagged union.
type BasisKind int

const (
	BasisKindNode BasisKind = iota
	BasisKindFrame
	BasisKindBoth
)

// Basis is the prior state a frame depends on (§3): a node, another frame,
// or both.
type Basis struct {
	Kind  BasisKind
	Node  NodeID
	Frame FrameID
}

// NodeBasis constructs a Basis over a node.
func NodeBasis(id NodeID) Basis { return Basis{Kind: BasisKindNode, Node: id} }

// FrameBasis constructs a Basis over a prior frame.
func FrameBasis(id FrameID) Basis { return Basis{Kind: BasisKindFrame, Frame: id} }

// BothBasis constructs a Basis over both a node and a prior frame.
func BothBasis(node NodeID, frame FrameID) Basis {
	return Basis{Kind: BasisKindBoth, Node: node, Frame: frame}
}

// AllowedFrameMetadataKeys is the §3 allow-set for Frame.Metadata keys.
var AllowedFrameMetadataKeys = map[string]bool{
	"agent_id":      true,
	"provider":      true,
	"model":         true,
	"provider_type": true,
	"prompt":        true,
	"deleted":       true,
}

// LegacyMarkerKeys identifies frames synthesized by an earlier generation
// of this system (§4.12, §9); such frames are read-only to regeneration.
var LegacyMarkerKeys = []string{"basis_hash", "synthesis_policy"}

// Frame is an immutable, content-addressed artifact attached to a node
// (§3).
type Frame struct {
	FrameID   FrameID
	Basis     Basis
	Content   []byte
	FrameType string
	AgentID   string
	Metadata  map[string]string
	Timestamp time.Time
}

// IsDeleted reports whether this frame carries the deletion tombstone
// marker described in §3.
func (f *Frame) IsDeleted() bool {
	return f.Metadata["deleted"] == "true"
}

// IsLegacySynthesized reports whether f carries a legacy marker key (§4.12,
// §9): such frames are never targeted for regeneration.
func (f *Frame) IsLegacySynthesized() bool {
	for _, k := range LegacyMarkerKeys {
		if _, ok := f.Metadata[k]; ok {
			return true
		}
	}
	return false
}

// HeadEntry is a Head Index entry: the current frame of a given type for a
// given node (§3).
type HeadEntry struct {
	Head         FrameID
	TombstonedAt *int64
}
