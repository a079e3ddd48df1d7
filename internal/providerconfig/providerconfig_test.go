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

package providerconfig

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
	cfg := Config{Name: "openai-1", Type: TypeOpenAI, Model: "gpt-4", Endpoint: "https://api.openai.com"}
	if err := s.Create(cfg); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := s.Get("openai-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Type != TypeOpenAI || got.Model != "gpt-4" {
		t.Fatalf("Get() = %+v, want round-tripped config", got)
	}
}

func TestLocalProviderDoesNotRequireEndpoint(t *testing.T) {
	s := mustOpen(t)
	if err := s.Create(Config{Name: "local-1", Type: TypeLocal}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
}

func TestRemoteProviderRequiresEndpoint(t *testing.T) {
	s := mustOpen(t)
	err := s.Create(Config{Name: "anthropic-1", Type: TypeAnthropic})
	if err == nil {
		t.Fatal("Create() err=nil for remote provider with no endpoint, want error")
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	s := mustOpen(t)
	err := s.Create(Config{Name: "mystery", Type: Type("mystery-backend")})
	if err == nil {
		t.Fatal("Create() err=nil for unknown provider type, want error")
	}
}

func TestListSortedByName(t *testing.T) {
	s := mustOpen(t)
	if err := s.Create(Config{Name: "zeta", Type: TypeLocal}); err != nil {
		t.Fatalf("Create(zeta) failed: %v", err)
	}
	if err := s.Create(Config{Name: "alpha", Type: TypeLocal}); err != nil {
		t.Fatalf("Create(alpha) failed: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("List() = %+v, want [alpha, zeta]", list)
	}
}
