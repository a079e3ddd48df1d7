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

// Package providerconfig is CRUD over the provider config files under the
// XDG config dir (spec.md §6): one small JSON document per provider name,
// covering the `provider {list,show,create,edit,remove,validate}` CLI
// surface. API keys are stored as given (local file, user's own config
// dir); this package never transmits or logs one.
package providerconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/jerkytreats/framegraph/internal/atomicfile"
	"github.com/jerkytreats/framegraph/internal/model"
)

// Type identifies the provider backend kind (§6).
type Type string

const (
	TypeOpenAI    Type = "openai"
	TypeAnthropic Type = "anthropic"
	TypeOllama    Type = "ollama"
	TypeLocal     Type = "local"
)

var validTypes = map[Type]bool{TypeOpenAI: true, TypeAnthropic: true, TypeOllama: true, TypeLocal: true}

// Config is one provider's on-disk configuration.
type Config struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Model    string `json:"model,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// Validate enforces a known provider type, and an endpoint for anything
// that isn't a local, in-process provider.
func (c *Config) Validate() error {
	if c.Name == "" {
		return model.NewConfigError("provider name must not be empty", nil)
	}
	if !validTypes[c.Type] {
		return model.NewConfigError("unknown provider type: "+string(c.Type), nil)
	}
	if c.Type != TypeLocal && c.Endpoint == "" {
		return model.NewConfigError("provider "+c.Name+" of type "+string(c.Type)+" requires an endpoint", nil)
	}
	return nil
}

// Store is a directory of per-provider JSON config files.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating dir if it doesn't exist.
func Open(dir string) (*Store, error) {
	if err := atomicfile.MkdirAll(dir); err != nil {
		return nil, model.NewIoError("failed to create provider config dir", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Create writes a new provider config, failing if one already exists under
// this name.
func (s *Store) Create(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return model.NewConfigError("failed to encode provider config", err)
	}
	if err := atomicfile.CreateExclusive(s.path(c.Name), data); err != nil {
		return model.NewConfigError("provider "+c.Name+" already exists or could not be created", err)
	}
	return nil
}

// Get reads one provider's config.
func (s *Store) Get(name string) (*Config, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewConfigError("provider not found: "+name, err)
		}
		return nil, model.NewIoError("failed to read provider config", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, model.NewConfigError("failed to decode provider config for "+name, err)
	}
	return &c, nil
}

// Update overwrites an existing provider's config, validating the new shape
// first.
func (s *Store) Update(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := s.Get(c.Name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return model.NewConfigError("failed to encode provider config", err)
	}
	if err := atomicfile.Overwrite(s.path(c.Name), data); err != nil {
		return model.NewIoError("failed to write provider config", err)
	}
	return nil
}

// Remove deletes a provider's config.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return model.NewConfigError("provider not found: "+name, err)
		}
		return model.NewIoError("failed to remove provider config", err)
	}
	return nil
}

// List returns every configured provider, sorted by name.
func (s *Store) List() ([]Config, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, model.NewIoError("failed to list provider config dir", err)
	}
	var out []Config
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name := entry.Name()[:len(entry.Name())-len(".json")]
		c, err := s.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
