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
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintln(os.Stderr, `merklectl manages a workspace's Merkle tree, frame store, and generation pipeline.

Usage:
  merklectl <command> [flags]

Commands:
  scan        Build or refresh the workspace's Merkle tree.
  status      Report workspace, agent, and provider status.
  validate    Check the tree and frame store for integrity issues.
  workspace   Manage tombstoned nodes (delete, restore, compact, list-deleted).
  context     Generate or retrieve context frames for a node (generate, get).
  agent       Manage agent configuration (list, show, create, edit, remove, validate).
  provider    Manage provider configuration (list, show, create, edit, remove, validate).

Run "merklectl <command> -h" for flags specific to a command.`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "scan":
		runScan(args)
	case "status":
		runStatus(args)
	case "validate":
		runValidate(args)
	case "workspace":
		runWorkspace(args)
	case "context":
		runContext(args)
	case "agent":
		runAgent(args)
	case "provider":
		runProvider(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "merklectl: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}
