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

// Package hashid implements the deterministic BLAKE3 identity functions of
// spec.md §4.1: content hashes, file/directory NodeIDs, and FrameIDs.
//
// All functions are pure: given the same typed inputs they return the same
// hash on every invocation, on every host.
package hashid

import (
	"encoding/binary"
	"sort"

	"github.com/jerkytreats/framegraph/internal/model"
	"lukechampine.com/blake3"
)

// ChildRef names one directory entry contributing to a directory's NodeID.
// Name must already be sorted by the caller (Tree Builder is responsible
// for producing children in UTF-8 byte order).
type ChildRef struct {
	Name   string
	NodeID model.NodeID
}

// ContentHash computes the plain BLAKE3 digest of file bytes.
func ContentHash(content []byte) model.Hash {
	return sum(content)
}

// FileNodeID computes the NodeID of a file node:
//
//	BLAKE3("file" || path_len_be64 || path || content_hash || sorted(k ":" v "\n")...)
func FileNodeID(canonicalPath string, contentHash model.Hash, metadata map[string]string) model.NodeID {
	h := blake3.New(32, nil)
	h.Write([]byte("file"))
	writeLenPrefixed(h, canonicalPath)
	h.Write(contentHash[:])
	writeSortedMetadata(h, metadata)
	return model.NodeID(finalize(h))
}

// DirectoryNodeID computes the NodeID of a directory node over its already
// sorted children:
//
//	BLAKE3("directory" || path_len_be64 || path || children_count_be64 || sum(name ":" NodeID) || metadata)
func DirectoryNodeID(canonicalPath string, children []ChildRef, metadata map[string]string) model.NodeID {
	h := blake3.New(32, nil)
	h.Write([]byte("directory"))
	writeLenPrefixed(h, canonicalPath)

	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], uint64(len(children)))
	h.Write(countBuf[:])

	for _, c := range children {
		h.Write([]byte(c.Name))
		h.Write([]byte(":"))
		h.Write(c.NodeID[:])
	}

	writeSortedMetadata(h, metadata)
	return model.NodeID(finalize(h))
}

// BasisHash computes the disjoint-tagged hash of a Basis variant (§3):
//
//	Node:  BLAKE3("node:" || NodeID)
//	Frame: BLAKE3("frame:" || FrameID)
//	Both:  BLAKE3("both:" || NodeID || FrameID)
func BasisHash(basis model.Basis) model.Hash {
	h := blake3.New(32, nil)
	switch basis.Kind {
	case model.BasisKindNode:
		h.Write([]byte("node:"))
		h.Write(basis.Node[:])
	case model.BasisKindFrame:
		h.Write([]byte("frame:"))
		h.Write(basis.Frame[:])
	case model.BasisKindBoth:
		h.Write([]byte("both:"))
		h.Write(basis.Node[:])
		h.Write(basis.Frame[:])
	}
	return finalize(h)
}

// FrameIdentity computes the FrameID of a frame (§3, fixed to include
// agent_id per spec.md §9's "prevailing variant" decision):
//
//	BLAKE3(basis_hash || "type:" || frame_type || "content:" || content || "agent:" || agent_id)
func FrameIdentity(basis model.Basis, content []byte, frameType, agentID string) model.FrameID {
	basisHash := BasisHash(basis)

	h := blake3.New(32, nil)
	h.Write(basisHash[:])
	h.Write([]byte("type:"))
	h.Write([]byte(frameType))
	h.Write([]byte("content:"))
	h.Write(content)
	h.Write([]byte("agent:"))
	h.Write([]byte(agentID))
	return model.FrameID(finalize(h))
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

func writeSortedMetadata(h interface{ Write([]byte) (int, error) }, metadata map[string]string) {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(":"))
		h.Write([]byte(metadata[k]))
		h.Write([]byte("\n"))
	}
}

func sum(b []byte) model.Hash {
	return blake3.Sum256(b)
}

func finalize(h interface {
	Sum([]byte) []byte
}) model.Hash {
	var out model.Hash
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}
