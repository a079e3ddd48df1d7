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

// Package regen detects which of a node's head frames are stale relative
// to their recorded basis (spec.md §4.12): a head frame is stale when the
// basis hash the Basis Index recorded for it differs from the hash of its
// basis rebuilt from the node's stored record (keeping the frame's own
// prior-frame component), or when the Basis Index has no entry for it.
// Legacy-synthesized frames (carrying the basis_hash/synthesis_policy
// marker keys from an earlier generation of this system) are read-only
// and are reported separately rather than flagged stale, mirroring the
// original's regenerate_node behavior.
package regen

import (
	"github.com/jerkytreats/framegraph/internal/basisindex"
	"github.com/jerkytreats/framegraph/internal/framestore"
	"github.com/jerkytreats/framegraph/internal/headindex"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/nodestore"
)

// Report summarizes a staleness scan over one node, optionally including
// its subtree.
type Report struct {
	NodeID               model.NodeID
	StaleFrameTypes      []string
	LegacySynthesisCount int
}

// Checker groups the stores needed to evaluate staleness.
type Checker struct {
	Nodes  *nodestore.Store
	Frames *framestore.Store
	Heads  *headindex.Index
	Basis  *basisindex.Index
}

// DetectNode reports the stale frame types and legacy-synthesis count for
// a single node, without descending into children.
func (c *Checker) DetectNode(node model.NodeID) (Report, error) {
	report := Report{NodeID: node}

	record, err := c.Nodes.Get(node)
	if err != nil {
		return report, err
	}

	heads := c.Heads.ListByNode(node)
	for frameType, head := range heads {
		if head.TombstonedAt != nil {
			continue
		}
		frame, err := c.Frames.Get(head.Head)
		if err != nil {
			continue // missing/corrupted head frame: nothing to evaluate
		}
		if frame.IsLegacySynthesized() {
			report.LegacySynthesisCount++
			continue
		}

		currentBasis := currentBasisFor(record, frame)
		if c.Basis.IsStale(head.Head, currentBasis) {
			report.StaleFrameTypes = append(report.StaleFrameTypes, frameType)
		}
	}
	return report, nil
}

// currentBasisFor recomputes what a frame's basis *should* be right now:
// the node's current identity, preserving a Frame/Both basis's prior-frame
// component so a chained frame's staleness still depends on its parent
// frame, not only the node.
func currentBasisFor(record *model.NodeRecord, frame *model.Frame) model.Basis {
	switch frame.Basis.Kind {
	case model.BasisKindFrame:
		return model.FrameBasis(frame.Basis.Frame)
	case model.BasisKindBoth:
		return model.BothBasis(record.NodeID, frame.Basis.Frame)
	default:
		return model.NodeBasis(record.NodeID)
	}
}

// DetectSubtree recursively scans node and every descendant, aggregating
// legacy-synthesis counts and returning one Report per visited node that
// has at least one stale frame type.
func (c *Checker) DetectSubtree(node model.NodeID) ([]Report, int, error) {
	record, err := c.Nodes.Get(node)
	if err != nil {
		return nil, 0, err
	}

	var reports []Report
	legacyTotal := 0

	report, err := c.DetectNode(node)
	if err != nil {
		return nil, 0, err
	}
	legacyTotal += report.LegacySynthesisCount
	if len(report.StaleFrameTypes) > 0 {
		reports = append(reports, report)
	}

	for _, child := range record.Children {
		childReports, childLegacy, err := c.DetectSubtree(child)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, childReports...)
		legacyTotal += childLegacy
	}

	return reports, legacyTotal, nil
}
