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

	"github.com/jerkytreats/framegraph/internal/providerconfig"
	"k8s.io/klog/v2"
)

func runProvider(args []string) {
	if len(args) == 0 {
		klog.Exit("provider: expected a subcommand (list, show, create, edit, remove, validate)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		runProviderList(rest)
	case "show":
		runProviderShow(rest)
	case "create":
		runProviderCreate(rest)
	case "edit":
		runProviderEdit(rest)
	case "remove":
		runProviderRemove(rest)
	case "validate":
		runProviderValidate(rest)
	default:
		klog.Exitf("provider: unknown subcommand %q", sub)
	}
}

func runProviderList(args []string) {
	fs, workspace := newFlagSet("provider list")
	format := fs.String("format", "text", "Output format: text or json.")
	fs.Parse(args)

	a, err := openApp(*workspace, "provider-list")
	if err != nil {
		klog.Exitf("provider list: failed to open workspace: %v", err)
	}
	providers, listErr := a.providers.List()
	a.close(listErr)
	if listErr != nil {
		klog.Exitf("provider list: %v", listErr)
	}

	if *format == "json" {
		printJSON(providers)
		return
	}
	if len(providers) == 0 {
		fmt.Println("No providers configured.")
		return
	}
	for _, p := range providers {
		fmt.Printf("%s\t%s\t%s\n", p.Name, p.Type, p.Model)
	}
}

func runProviderShow(args []string) {
	fs, workspace := newFlagSet("provider show")
	name := fs.String("name", "", "Provider name to show.")
	format := fs.String("format", "text", "Output format: text or json.")
	fs.Parse(args)
	if *name == "" {
		klog.Exit("provider show: --name is required")
	}

	a, err := openApp(*workspace, "provider-show")
	if err != nil {
		klog.Exitf("provider show: failed to open workspace: %v", err)
	}
	cfg, getErr := a.providers.Get(*name)
	a.close(getErr)
	if getErr != nil {
		klog.Exitf("provider show: %v", getErr)
	}

	if *format == "json" {
		printJSON(cfg)
		return
	}
	fmt.Printf("name: %s\ntype: %s\nmodel: %s\nendpoint: %s\n", cfg.Name, cfg.Type, cfg.Model, cfg.Endpoint)
}

func runProviderCreate(args []string) {
	fs, workspace := newFlagSet("provider create")
	name := fs.String("name", "", "Provider name.")
	providerType := fs.String("type", "local", "Provider type: openai, anthropic, ollama, or local.")
	model := fs.String("model", "", "Model identifier.")
	endpoint := fs.String("endpoint", "", "Endpoint URL (required for non-local types).")
	apiKey := fs.String("api-key", "", "API key, stored as given in the local config file.")
	fs.Parse(args)
	if *name == "" {
		klog.Exit("provider create: --name is required")
	}

	a, err := openApp(*workspace, "provider-create")
	if err != nil {
		klog.Exitf("provider create: failed to open workspace: %v", err)
	}
	cfg := providerconfig.Config{
		Name:     *name,
		Type:     providerconfig.Type(*providerType),
		Model:    *model,
		Endpoint: *endpoint,
		APIKey:   *apiKey,
	}
	createErr := a.providers.Create(cfg)
	a.close(createErr)
	if createErr != nil {
		klog.Exitf("provider create: %v", createErr)
	}
	fmt.Printf("created provider %s\n", *name)
}

func runProviderEdit(args []string) {
	fs, workspace := newFlagSet("provider edit")
	name := fs.String("name", "", "Provider name to edit.")
	providerType := fs.String("type", "", "New type (leave empty to keep current).")
	model := fs.String("model", "", "New model (leave empty to keep current).")
	endpoint := fs.String("endpoint", "", "New endpoint (leave empty to keep current).")
	apiKey := fs.String("api-key", "", "New API key (leave empty to keep current).")
	fs.Parse(args)
	if *name == "" {
		klog.Exit("provider edit: --name is required")
	}

	a, err := openApp(*workspace, "provider-edit")
	if err != nil {
		klog.Exitf("provider edit: failed to open workspace: %v", err)
	}
	editErr := func() error {
		cfg, err := a.providers.Get(*name)
		if err != nil {
			return err
		}
		if *providerType != "" {
			cfg.Type = providerconfig.Type(*providerType)
		}
		if *model != "" {
			cfg.Model = *model
		}
		if *endpoint != "" {
			cfg.Endpoint = *endpoint
		}
		if *apiKey != "" {
			cfg.APIKey = *apiKey
		}
		return a.providers.Update(*cfg)
	}()
	a.close(editErr)
	if editErr != nil {
		klog.Exitf("provider edit: %v", editErr)
	}
	fmt.Printf("updated provider %s\n", *name)
}

func runProviderRemove(args []string) {
	fs, workspace := newFlagSet("provider remove")
	name := fs.String("name", "", "Provider name to remove.")
	fs.Parse(args)
	if *name == "" {
		klog.Exit("provider remove: --name is required")
	}

	a, err := openApp(*workspace, "provider-remove")
	if err != nil {
		klog.Exitf("provider remove: failed to open workspace: %v", err)
	}
	removeErr := a.providers.Remove(*name)
	a.close(removeErr)
	if removeErr != nil {
		klog.Exitf("provider remove: %v", removeErr)
	}
	fmt.Printf("removed provider %s\n", *name)
}

func runProviderValidate(args []string) {
	fs, workspace := newFlagSet("provider validate")
	name := fs.String("name", "", "Provider name to validate.")
	fs.Parse(args)
	if *name == "" {
		klog.Exit("provider validate: --name is required")
	}

	a, err := openApp(*workspace, "provider-validate")
	if err != nil {
		klog.Exitf("provider validate: failed to open workspace: %v", err)
	}
	validateErr := func() error {
		cfg, err := a.providers.Get(*name)
		if err != nil {
			return err
		}
		return cfg.Validate()
	}()
	a.close(validateErr)
	if validateErr != nil {
		klog.Exitf("provider validate: %v", validateErr)
	}
	fmt.Printf("provider %s is valid\n", *name)
}
