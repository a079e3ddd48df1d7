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

// NodeKind discriminates the NodeType tagged union.
type NodeKind int

const (
	NodeKindFile NodeKind = iota
	NodeKindDirectory
)

// NodeType is the tagged union `File { size, content_hash } | Directory`
// of spec.md §3.
type NodeType struct {
	Kind        NodeKind
	Size        uint64
	ContentHash Hash
}

// NodeRecord is one durable record per Merkle tree node (§3).
type NodeRecord struct {
	NodeID        NodeID
	Path          string
	Type          NodeType
	Children      []NodeID // directories only, sorted by child name
	Parent        *NodeID
	FrameSetRoot  *Hash // reserved; left nil (§9 open question)
	Metadata      map[string]string
	TombstonedAt  *int64 // unix seconds; nil unless tombstoned
}

// IsTombstoned reports whether the record is logically deleted.
func (n *NodeRecord) IsTombstoned() bool {
	return n.TombstonedAt != nil
}

// IsDirectory reports whether this record describes a directory.
func (n *NodeRecord) IsDirectory() bool {
	return n.Type.Kind == NodeKindDirectory
}
