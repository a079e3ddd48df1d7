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

// Package contextview implements the Context View engine of spec.md §4.8:
// conjunctive filtering by frame type and/or agent, deterministic ordering
// (recency, type or agent, with FrameID as a stable tie-break), and
// truncation to a bounded result size.
package contextview

import (
	"sort"

	"github.com/jerkytreats/framegraph/internal/model"
)

// FrameSource resolves a FrameID to its Frame. Implemented by the Frame
// Store; kept as an interface so the engine can be tested without a real
// store.
type FrameSource interface {
	Get(id model.FrameID) (*model.Frame, error)
}

func matches(f *model.Frame, filter model.FrameFilter) bool {
	switch filter.Kind {
	case model.FilterByType:
		return f.FrameType == filter.Value
	case model.FilterByAgent:
		return f.Metadata["agent_id"] == filter.Value
	default:
		return true
	}
}

func passesAll(f *model.Frame, filters []model.FrameFilter) bool {
	for _, flt := range filters {
		if !matches(f, flt) {
			return false
		}
	}
	return true
}

// Resolve applies policy to frameIDs (the full frame set attached to a
// node), returning the selected FrameIDs in deterministic order. FrameIDs
// that no longer resolve in src (missing or corrupted) are silently
// skipped, matching the original's "skip rather than fail" retrieval
// semantics.
func Resolve(src FrameSource, frameIDs []model.FrameID, policy model.ViewPolicy) ([]model.FrameID, error) {
	type entry struct {
		id model.FrameID
		f  *model.Frame
	}

	entries := make([]entry, 0, len(frameIDs))
	for _, id := range frameIDs {
		f, err := src.Get(id)
		if err != nil {
			if model.KindOf(err) == model.KindFrameNotFound || model.KindOf(err) == model.KindHashMismatch {
				continue
			}
			return nil, err
		}
		if !passesAll(f, policy.Filters) {
			continue
		}
		entries = append(entries, entry{id: id, f: f})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch policy.Ordering {
		case model.OrderingType:
			if a.f.FrameType != b.f.FrameType {
				return a.f.FrameType < b.f.FrameType
			}
		case model.OrderingAgent:
			aa, ba := a.f.Metadata["agent_id"], b.f.Metadata["agent_id"]
			if aa != ba {
				return aa < ba
			}
		default: // OrderingRecency
			if !a.f.Timestamp.Equal(b.f.Timestamp) {
				return a.f.Timestamp.After(b.f.Timestamp)
			}
		}
		// Stable, deterministic tie-break across hosts/runs.
		return a.id.String() < b.id.String()
	})

	max := policy.MaxFrames
	if max <= 0 || max > len(entries) {
		max = len(entries)
	}

	out := make([]model.FrameID, max)
	for i := 0; i < max; i++ {
		out[i] = entries[i].id
	}
	return out, nil
}
