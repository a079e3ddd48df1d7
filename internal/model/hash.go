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

// Package model holds the shared, dependency-free data types of the
// Merkle/frame store: hashes, node and frame records, view policies and
// generation plan/result shapes.
package model

import "encoding/hex"

// Hash is a 32-byte BLAKE3 digest, the identity primitive for everything
// in this system.
type Hash [32]byte

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ShardPath returns the two-level sharding prefix (hex[0:2], hex[2:4]) used
// to lay hashed artifacts out on disk without directory bloat.
func (h Hash) ShardPath() (string, string) {
	s := h.String()
	return s[0:2], s[2:4]
}

// NodeID is the content-addressed identity of a Merkle tree node.
type NodeID Hash

func (n NodeID) String() string { return Hash(n).String() }

// IsZero reports whether n is the zero NodeID.
func (n NodeID) IsZero() bool { return Hash(n).IsZero() }

// FrameID is the content-addressed identity of a context frame.
type FrameID Hash

func (f FrameID) String() string { return Hash(f).String() }

// IsZero reports whether f is the zero FrameID.
func (f FrameID) IsZero() bool { return Hash(f).IsZero() }

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}

var errInvalidHashLength = &hashLengthError{}

type hashLengthError struct{}

func (*hashLengthError) Error() string { return "model: hash must be exactly 32 bytes" }
