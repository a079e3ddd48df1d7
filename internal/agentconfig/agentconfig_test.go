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

package agentconfig

import "testing"

func mustOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := mustOpen(t)
	cfg := Config{AgentID: "writer-a", Role: RoleWriter, PromptPath: "/prompts/a.txt"}
	if err := s.Create(cfg); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := s.Get("writer-a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Role != RoleWriter || got.PromptPath != "/prompts/a.txt" {
		t.Fatalf("Get() = %+v, want round-tripped config", got)
	}
}

func TestCreateRejectsWriterWithoutPromptPath(t *testing.T) {
	s := mustOpen(t)
	err := s.Create(Config{AgentID: "writer-b", Role: RoleWriter})
	if err == nil {
		t.Fatal("Create() err=nil, want validation error")
	}
}

func TestCreateRejectsDuplicateAgentID(t *testing.T) {
	s := mustOpen(t)
	cfg := Config{AgentID: "reader-a", Role: RoleReader}
	if err := s.Create(cfg); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := s.Create(cfg); err == nil {
		t.Fatal("Create() err=nil on duplicate agent_id, want error")
	}
}

func TestUpdateRequiresExistingAgent(t *testing.T) {
	s := mustOpen(t)
	err := s.Update(Config{AgentID: "ghost", Role: RoleReader})
	if err == nil {
		t.Fatal("Update() err=nil for nonexistent agent, want error")
	}
}

func TestRemoveAndList(t *testing.T) {
	s := mustOpen(t)
	if err := s.Create(Config{AgentID: "a", Role: RoleReader}); err != nil {
		t.Fatalf("Create(a) failed: %v", err)
	}
	if err := s.Create(Config{AgentID: "b", Role: RoleReader}); err != nil {
		t.Fatalf("Create(b) failed: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list[0].AgentID != "a" || list[1].AgentID != "b" {
		t.Fatalf("List() = %+v, want [a, b]", list)
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	list, err = s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 || list[0].AgentID != "b" {
		t.Fatalf("List() after Remove = %+v, want [b]", list)
	}
}
