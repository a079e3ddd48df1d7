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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"
)

func runWorkspace(args []string) {
	if len(args) == 0 {
		klog.Exit("workspace: expected a subcommand (delete, restore, compact, list-deleted)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "delete":
		runWorkspaceDelete(rest)
	case "restore":
		runWorkspaceRestore(rest)
	case "compact":
		runWorkspaceCompact(rest)
	case "list-deleted":
		runWorkspaceListDeleted(rest)
	default:
		klog.Exitf("workspace: unknown subcommand %q", sub)
	}
}

func runWorkspaceDelete(args []string) {
	fs, workspace := newFlagSet("workspace delete")
	node := fs.String("node", "", "NodeID of the node (and its subtree) to tombstone.")
	path := fs.String("path", "", "Path of the node (and its subtree) to tombstone.")
	fs.Parse(args)

	a, err := openApp(*workspace, "workspace-delete")
	if err != nil {
		klog.Exitf("workspace delete: failed to open workspace: %v", err)
	}

	runErr := func() error {
		target, err := resolveTargetNode(a, *node, *path)
		if err != nil {
			return err
		}
		affected, err := a.nodes.Tombstone(target, time.Now().Unix())
		if err != nil {
			return err
		}
		fmt.Printf("tombstoned %d node(s) under %s\n", len(affected), target.String()[:7])
		return nil
	}()
	a.close(runErr)
	if runErr != nil {
		klog.Exitf("workspace delete: %v", runErr)
	}
}

func runWorkspaceRestore(args []string) {
	fs, workspace := newFlagSet("workspace restore")
	node := fs.String("node", "", "NodeID of the node (and its subtree) to restore.")
	path := fs.String("path", "", "Path of the node (and its subtree) to restore.")
	fs.Parse(args)

	a, err := openApp(*workspace, "workspace-restore")
	if err != nil {
		klog.Exitf("workspace restore: failed to open workspace: %v", err)
	}

	runErr := func() error {
		target, err := resolveTargetNode(a, *node, *path)
		if err != nil {
			return err
		}
		affected, err := a.nodes.Restore(target)
		if err != nil {
			return err
		}
		fmt.Printf("restored %d node(s) under %s\n", len(affected), target.String()[:7])
		return nil
	}()
	a.close(runErr)
	if runErr != nil {
		klog.Exitf("workspace restore: %v", runErr)
	}
}

func runWorkspaceCompact(args []string) {
	fs, workspace := newFlagSet("workspace compact")
	fs.Parse(args)

	a, err := openApp(*workspace, "workspace-compact")
	if err != nil {
		klog.Exitf("workspace compact: failed to open workspace: %v", err)
	}

	runErr := func() error {
		tombstoned, err := a.nodes.ListTombstoned()
		if err != nil {
			return err
		}
		removed := 0
		for _, rec := range tombstoned {
			if err := a.nodes.Delete(rec.NodeID); err != nil {
				return err
			}
			removed++
		}
		fmt.Printf("compacted %d tombstoned node record(s)\n", removed)
		return nil
	}()
	a.close(runErr)
	if runErr != nil {
		klog.Exitf("workspace compact: %v", runErr)
	}
}

func runWorkspaceListDeleted(args []string) {
	fs, workspace := newFlagSet("workspace list-deleted")
	format := fs.String("format", "text", "Output format: text or json.")
	fs.Parse(args)

	a, err := openApp(*workspace, "workspace-list-deleted")
	if err != nil {
		klog.Exitf("workspace list-deleted: failed to open workspace: %v", err)
	}

	tombstoned, buildErr := a.nodes.ListTombstoned()
	a.close(buildErr)
	if buildErr != nil {
		klog.Exitf("workspace list-deleted: %v", buildErr)
	}

	if *format == "json" {
		type deletedEntry struct {
			NodeID       string `json:"node_id"`
			Path         string `json:"path"`
			TombstonedAt int64  `json:"tombstoned_at"`
		}
		out := make([]deletedEntry, 0, len(tombstoned))
		for _, rec := range tombstoned {
			var ts int64
			if rec.TombstonedAt != nil {
				ts = *rec.TombstonedAt
			}
			out = append(out, deletedEntry{NodeID: rec.NodeID.String(), Path: rec.Path, TombstonedAt: ts})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			klog.Exitf("workspace list-deleted: failed to encode json: %v", err)
		}
		return
	}

	if len(tombstoned) == 0 {
		fmt.Println("No tombstoned nodes.")
		return
	}
	for _, rec := range tombstoned {
		fmt.Printf("%s  %s\n", rec.NodeID.String()[:7], rec.Path)
	}
}
