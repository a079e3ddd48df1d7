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

// Package framestore is the content-addressed, append-only Frame Store of
// spec.md §4.4: frames are laid out in a two-level sharded directory tree,
// keyed by FrameID, written atomically and never mutated once present.
// The on-disk layout and the temp-then-link write sequence follow the
// teacher's storage/posix entry bundle conventions, adapted from
// file-per-hash to file-per-frame.
package framestore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jerkytreats/framegraph/internal/atomicfile"
	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/model"
)

// Store is the on-disk Frame Store rooted at a single directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating dir if absent.
func Open(dir string) (*Store, error) {
	if err := atomicfile.MkdirAll(dir); err != nil {
		return nil, model.NewIoError("failed to create frame store root", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) shardPath(id model.FrameID) string {
	h := model.Hash(id)
	a, b := h.ShardPath()
	return filepath.Join(s.root, a, b, h.String()+".frame")
}

type wireFrame struct {
	FrameID   model.FrameID
	BasisKind model.BasisKind
	BasisNode model.NodeID
	BasisFrm  model.FrameID
	Content   []byte
	FrameType string
	AgentID   string
	Metadata  map[string]string
	UnixNanos int64
}

func toWire(f *model.Frame) wireFrame {
	return wireFrame{
		FrameID:   f.FrameID,
		BasisKind: f.Basis.Kind,
		BasisNode: f.Basis.Node,
		BasisFrm:  f.Basis.Frame,
		Content:   f.Content,
		FrameType: f.FrameType,
		AgentID:   f.AgentID,
		Metadata:  f.Metadata,
		UnixNanos: f.Timestamp.UnixNano(),
	}
}

func (w wireFrame) toFrame() *model.Frame {
	return &model.Frame{
		FrameID:   w.FrameID,
		Basis:     model.Basis{Kind: w.BasisKind, Node: w.BasisNode, Frame: w.BasisFrm},
		Content:   w.Content,
		FrameType: w.FrameType,
		AgentID:   w.AgentID,
		Metadata:  w.Metadata,
		Timestamp: time.Unix(0, w.UnixNanos).UTC(),
	}
}

// Put writes f to the store. If a frame with the same FrameID already
// exists, Put is a no-op dedup hit: the existing content is trusted only
// after its hash is re-verified against f's identity inputs.
func (s *Store) Put(f *model.Frame) error {
	wantID := hashid.FrameIdentity(f.Basis, f.Content, f.FrameType, f.AgentID)
	if wantID != f.FrameID {
		return model.NewHashMismatch(model.Hash(wantID), model.Hash(f.FrameID))
	}

	path := s.shardPath(f.FrameID)
	if _, err := os.Stat(path); err == nil {
		return s.verifyExisting(f)
	} else if !os.IsNotExist(err) {
		return model.NewIoError("failed to stat frame path", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toWire(f)); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if err := atomicfile.CreateExclusive(path, buf.Bytes()); err != nil {
		if os.IsExist(err) {
			return s.verifyExisting(f)
		}
		return model.NewIoError("failed to write frame", err)
	}
	return nil
}

func (s *Store) verifyExisting(f *model.Frame) error {
	existing, err := s.Get(f.FrameID)
	if err != nil {
		return err
	}
	recomputed := hashid.FrameIdentity(existing.Basis, existing.Content, existing.FrameType, existing.AgentID)
	if recomputed != existing.FrameID {
		return model.NewHashMismatch(model.Hash(recomputed), model.Hash(existing.FrameID))
	}
	return nil
}

// Get reads a frame by FrameID, re-verifying its content hash against its
// identity on every read to detect on-disk corruption.
func (s *Store) Get(id model.FrameID) (*model.Frame, error) {
	path := s.shardPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewFrameNotFound(id)
		}
		return nil, model.NewIoError("failed to read frame", err)
	}

	var w wireFrame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, model.NewInvalidFrame("failed to decode frame at " + path + ": " + err.Error())
	}
	f := w.toFrame()

	recomputed := hashid.FrameIdentity(f.Basis, f.Content, f.FrameType, f.AgentID)
	if recomputed != f.FrameID {
		return nil, model.NewHashMismatch(model.Hash(recomputed), model.Hash(f.FrameID))
	}
	return f, nil
}

// Has reports whether a frame with the given FrameID is already stored,
// without paying the decode+hash-verify cost of Get.
func (s *Store) Has(id model.FrameID) bool {
	_, err := os.Stat(s.shardPath(id))
	return err == nil
}
