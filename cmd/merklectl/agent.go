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

	"github.com/jerkytreats/framegraph/internal/agentconfig"
	"k8s.io/klog/v2"
)

func runAgent(args []string) {
	if len(args) == 0 {
		klog.Exit("agent: expected a subcommand (list, show, create, edit, remove, validate)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		runAgentList(rest)
	case "show":
		runAgentShow(rest)
	case "create":
		runAgentCreate(rest)
	case "edit":
		runAgentEdit(rest)
	case "remove":
		runAgentRemove(rest)
	case "validate":
		runAgentValidate(rest)
	default:
		klog.Exitf("agent: unknown subcommand %q", sub)
	}
}

func runAgentList(args []string) {
	fs, workspace := newFlagSet("agent list")
	format := fs.String("format", "text", "Output format: text or json.")
	fs.Parse(args)

	a, err := openApp(*workspace, "agent-list")
	if err != nil {
		klog.Exitf("agent list: failed to open workspace: %v", err)
	}
	agents, listErr := a.agents.List()
	a.close(listErr)
	if listErr != nil {
		klog.Exitf("agent list: %v", listErr)
	}

	if *format == "json" {
		printJSON(agents)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents configured.")
		return
	}
	for _, ag := range agents {
		fmt.Printf("%s\t%s\n", ag.AgentID, ag.Role)
	}
}

func runAgentShow(args []string) {
	fs, workspace := newFlagSet("agent show")
	id := fs.String("agent-id", "", "Agent ID to show.")
	format := fs.String("format", "text", "Output format: text or json.")
	fs.Parse(args)
	if *id == "" {
		klog.Exit("agent show: --agent-id is required")
	}

	a, err := openApp(*workspace, "agent-show")
	if err != nil {
		klog.Exitf("agent show: failed to open workspace: %v", err)
	}
	cfg, getErr := a.agents.Get(*id)
	a.close(getErr)
	if getErr != nil {
		klog.Exitf("agent show: %v", getErr)
	}

	if *format == "json" {
		printJSON(cfg)
		return
	}
	fmt.Printf("agent_id: %s\nrole: %s\nprompt_path: %s\n", cfg.AgentID, cfg.Role, cfg.PromptPath)
}

func runAgentCreate(args []string) {
	fs, workspace := newFlagSet("agent create")
	id := fs.String("agent-id", "", "Agent ID.")
	role := fs.String("role", "Reader", "Role: Reader or Writer.")
	promptPath := fs.String("prompt-path", "", "Prompt file path (required for Writer agents).")
	fs.Parse(args)
	if *id == "" {
		klog.Exit("agent create: --agent-id is required")
	}

	a, err := openApp(*workspace, "agent-create")
	if err != nil {
		klog.Exitf("agent create: failed to open workspace: %v", err)
	}
	cfg := agentconfig.Config{AgentID: *id, Role: agentconfig.Role(*role), PromptPath: *promptPath}
	createErr := a.agents.Create(cfg)
	a.close(createErr)
	if createErr != nil {
		klog.Exitf("agent create: %v", createErr)
	}
	fmt.Printf("created agent %s\n", *id)
}

func runAgentEdit(args []string) {
	fs, workspace := newFlagSet("agent edit")
	id := fs.String("agent-id", "", "Agent ID to edit.")
	role := fs.String("role", "", "New role (leave empty to keep current).")
	promptPath := fs.String("prompt-path", "", "New prompt file path (leave empty to keep current).")
	fs.Parse(args)
	if *id == "" {
		klog.Exit("agent edit: --agent-id is required")
	}

	a, err := openApp(*workspace, "agent-edit")
	if err != nil {
		klog.Exitf("agent edit: failed to open workspace: %v", err)
	}
	editErr := func() error {
		cfg, err := a.agents.Get(*id)
		if err != nil {
			return err
		}
		if *role != "" {
			cfg.Role = agentconfig.Role(*role)
		}
		if *promptPath != "" {
			cfg.PromptPath = *promptPath
		}
		return a.agents.Update(*cfg)
	}()
	a.close(editErr)
	if editErr != nil {
		klog.Exitf("agent edit: %v", editErr)
	}
	fmt.Printf("updated agent %s\n", *id)
}

func runAgentRemove(args []string) {
	fs, workspace := newFlagSet("agent remove")
	id := fs.String("agent-id", "", "Agent ID to remove.")
	fs.Parse(args)
	if *id == "" {
		klog.Exit("agent remove: --agent-id is required")
	}

	a, err := openApp(*workspace, "agent-remove")
	if err != nil {
		klog.Exitf("agent remove: failed to open workspace: %v", err)
	}
	removeErr := a.agents.Remove(*id)
	a.close(removeErr)
	if removeErr != nil {
		klog.Exitf("agent remove: %v", removeErr)
	}
	fmt.Printf("removed agent %s\n", *id)
}

func runAgentValidate(args []string) {
	fs, workspace := newFlagSet("agent validate")
	id := fs.String("agent-id", "", "Agent ID to validate.")
	fs.Parse(args)
	if *id == "" {
		klog.Exit("agent validate: --agent-id is required")
	}

	a, err := openApp(*workspace, "agent-validate")
	if err != nil {
		klog.Exitf("agent validate: failed to open workspace: %v", err)
	}
	validateErr := func() error {
		cfg, err := a.agents.Get(*id)
		if err != nil {
			return err
		}
		return cfg.Validate()
	}()
	a.close(validateErr)
	if validateErr != nil {
		klog.Exitf("agent validate: %v", validateErr)
	}
	fmt.Printf("agent %s is valid\n", *id)
}
