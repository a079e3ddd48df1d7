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

// Package agentconfig is CRUD over the agent config files under the XDG
// config dir (spec.md §6): one small JSON document per agent_id, covering
// the `agent {list,show,create,edit,remove,validate}` CLI surface.
package agentconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/jerkytreats/framegraph/internal/atomicfile"
	"github.com/jerkytreats/framegraph/internal/model"
)

// Role is an agent's write capability (§3, §6).
type Role string

const (
	RoleReader Role = "Reader"
	RoleWriter Role = "Writer"
)

// Config is one agent's on-disk configuration.
type Config struct {
	AgentID    string            `json:"agent_id"`
	Role       Role              `json:"role"`
	PromptPath string            `json:"prompt_path,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate enforces the shape a Writer agent must have: a role of Reader or
// Writer, and a configured prompt file for Writer (it's what the agent
// synthesizes with).
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return model.NewConfigError("agent_id must not be empty", nil)
	}
	if c.Role != RoleReader && c.Role != RoleWriter {
		return model.NewConfigError("role must be Reader or Writer, got "+string(c.Role), nil)
	}
	if c.Role == RoleWriter && c.PromptPath == "" {
		return model.NewConfigError("writer agent "+c.AgentID+" requires prompt_path", nil)
	}
	return nil
}

// Store is a directory of per-agent JSON config files.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating dir if it doesn't exist.
func Open(dir string) (*Store, error) {
	if err := atomicfile.MkdirAll(dir); err != nil {
		return nil, model.NewIoError("failed to create agent config dir", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(agentID string) string {
	return filepath.Join(s.dir, agentID+".json")
}

// Create writes a new agent config, failing if one already exists for this
// agent_id.
func (s *Store) Create(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return model.NewConfigError("failed to encode agent config", err)
	}
	if err := atomicfile.CreateExclusive(s.path(c.AgentID), data); err != nil {
		return model.NewConfigError("agent "+c.AgentID+" already exists or could not be created", err)
	}
	return nil
}

// Get reads one agent's config.
func (s *Store) Get(agentID string) (*Config, error) {
	data, err := os.ReadFile(s.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewConfigError("agent not found: "+agentID, err)
		}
		return nil, model.NewIoError("failed to read agent config", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, model.NewConfigError("failed to decode agent config for "+agentID, err)
	}
	return &c, nil
}

// Update overwrites an existing agent's config, validating the new shape
// first.
func (s *Store) Update(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := s.Get(c.AgentID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return model.NewConfigError("failed to encode agent config", err)
	}
	if err := atomicfile.Overwrite(s.path(c.AgentID), data); err != nil {
		return model.NewIoError("failed to write agent config", err)
	}
	return nil
}

// Remove deletes an agent's config.
func (s *Store) Remove(agentID string) error {
	if err := os.Remove(s.path(agentID)); err != nil {
		if os.IsNotExist(err) {
			return model.NewConfigError("agent not found: "+agentID, err)
		}
		return model.NewIoError("failed to remove agent config", err)
	}
	return nil
}

// List returns every configured agent, sorted by agent_id.
func (s *Store) List() ([]Config, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, model.NewIoError("failed to list agent config dir", err)
	}
	var out []Config
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		agentID := entry.Name()[:len(entry.Name())-len(".json")]
		c, err := s.Get(agentID)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}
