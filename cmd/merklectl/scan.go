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

package main

import (
	"context"

	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/treebuilder"
	"github.com/jerkytreats/framegraph/internal/walker"
	"k8s.io/klog/v2"
)

func runScan(args []string) {
	fs, workspace := newFlagSet("scan")
	force := fs.Bool("force", false, "Rebuild and store the tree even if the root hash is unchanged.")
	fs.Parse(args)

	a, err := openApp(*workspace, "scan")
	if err != nil {
		klog.Exitf("scan: failed to open workspace: %v", err)
	}

	runErr := doScan(a, *force)
	a.close(runErr)
	if runErr != nil {
		klog.Exitf("scan: %v", runErr)
	}
}

func doScan(a *app, force bool) error {
	ignore := walker.NewIgnoreSet()

	existingRoot, rootErr := a.nodes.Root()
	hasExistingRoot := rootErr == nil
	if rootErr != nil && model.KindOf(rootErr) != model.KindNodeNotFound {
		return rootErr
	}

	result, err := treebuilder.Build(context.Background(), a.workspaceRoot, ignore)
	if err != nil {
		return err
	}

	if hasExistingRoot && !force && existingRoot == result.Root {
		klog.Infof("scan: root hash unchanged (%s...), nothing to do", result.Root.String()[:7])
		a.telemetry.EmitEventBestEffort(a.sessionID, "scan_skipped", map[string]any{"root": result.Root.String()})
		return nil
	}

	records := make([]*model.NodeRecord, 0, len(result.Nodes))
	for id, node := range result.Nodes {
		rec := &model.NodeRecord{
			NodeID:   id,
			Path:     node.Path,
			Type:     node.Type,
			Children: node.Children,
		}
		if parent, ok := result.ParentOf[id]; ok {
			p := parent
			rec.Parent = &p
		}
		records = append(records, rec)
	}
	if err := a.nodes.PutBatch(records); err != nil {
		return err
	}
	if err := a.nodes.SetRoot(result.Root); err != nil {
		return err
	}

	a.telemetry.EmitEventBestEffort(a.sessionID, "scan_completed", map[string]any{
		"root":        result.Root.String(),
		"total_nodes": len(records),
	})
	klog.Infof("scan: root %s..., %d node(s)", result.Root.String()[:7], len(records))
	return nil
}
