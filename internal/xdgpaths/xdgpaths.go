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

// Package xdgpaths resolves the XDG Base Directory locations this tool
// reads and writes (spec.md §6): agent/provider config under
// XDG_CONFIG_HOME, frame/node/index storage under XDG_DATA_HOME, and
// session/telemetry state under XDG_STATE_HOME, each namespaced under a
// "merklectl" subdirectory, falling back to $HOME-relative defaults when
// the XDG variable is unset exactly as the spec's originating tool did.
package xdgpaths

import (
	"os"
	"path/filepath"
)

const appDir = "merklectl"

func fromEnvOrHome(envVar, homeRelative string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, homeRelative, appDir)
}

// ConfigDir is where agent/provider config files live: XDG_CONFIG_HOME or
// ~/.config.
func ConfigDir() string {
	return fromEnvOrHome("XDG_CONFIG_HOME", ".config")
}

// DataDir is where node/frame/index storage lives: XDG_DATA_HOME or
// ~/.local/share.
func DataDir() string {
	return fromEnvOrHome("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// StateDir is where session/telemetry state lives: XDG_STATE_HOME or
// ~/.local/state.
func StateDir() string {
	return fromEnvOrHome("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// WorkspaceDataDir namespaces DataDir by a stable identifier for the
// workspace being operated on (its canonicalized root path, hashed by the
// caller), so two workspaces never share node/frame storage.
func WorkspaceDataDir(workspaceKey string) string {
	return filepath.Join(DataDir(), "workspaces", workspaceKey)
}

// WorkspaceStateDir is StateDir's workspace-scoped equivalent, for session
// and telemetry storage.
func WorkspaceStateDir(workspaceKey string) string {
	return filepath.Join(StateDir(), "workspaces", workspaceKey)
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
